//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"opsbot/internal/api"
	"opsbot/internal/command"
	"opsbot/internal/console"
	"opsbot/internal/health"
	"opsbot/internal/indexer"
	"opsbot/internal/job"
	"opsbot/internal/machine/docker"
	"opsbot/internal/notify"
	"opsbot/internal/testutil"
)

const testImage = "alpine:3.20"

type stack struct {
	url      string
	messages *notify.Recorder
}

// newStack runs the bot in process against the local Docker daemon.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	machines, err := docker.New(ctx, docker.Config{StopTimeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to create docker backend: %v", err)
	}

	messages := notify.NewRecorder(notify.DefaultMaxSize)
	bot := command.New(command.Config{
		PollInterval:  100 * time.Millisecond,
		PollThreshold: 2,
	}, command.Deps{
		Status:   indexer.NewClient(5 * time.Second),
		Machines: machines,
		Sink:     messages,
	})

	loop := job.NewLoop(job.NewSupervisor(job.Config{}), job.LoopConfig{ReapInterval: 50 * time.Millisecond})
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(loopCtx) }()

	checker := health.NewChecker(machines)
	checker.Register(health.CheckJobs, func(ctx context.Context) error {
		_, err := loop.List(ctx)
		return err
	})
	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Messages:      console.NewRouter(console.Config{}, bot, loop, nil),
		Jobs:          loop,
		HealthChecker: checker,
	}))

	t.Cleanup(func() {
		server.Close()
		stopLoop()
		<-loopErr
		machines.Close()
	})
	return &stack{url: server.URL, messages: messages}
}

// indexerServer serves a status that can be switched while a job polls it.
// The returned base URL uses localhost, since bare IPs are not valid
// deployment urls.
func indexerServer(t *testing.T, status *atomic.Value) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": %q, "results": [{"cycle_took": "0:00:01"}]}`, status.Load().(string))
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
}

func (s *stack) post(t *testing.T, text string) console.Reply {
	t.Helper()
	body, _ := json.Marshal(console.Message{Channel: "e2e", Text: text})
	resp, err := http.Post(s.url+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post message failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 200 or 202, got %d", resp.StatusCode)
	}
	var reply console.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	return reply
}

func (s *stack) jobs(t *testing.T) api.JobList {
	t.Helper()
	resp, err := http.Get(s.url + "/v1/jobs")
	if err != nil {
		t.Fatalf("List jobs failed: %v", err)
	}
	defer resp.Body.Close()
	var list api.JobList
	json.NewDecoder(resp.Body).Decode(&list)
	return list
}

func (s *stack) received(text string) bool {
	for _, m := range s.messages.Texts() {
		if strings.Contains(m, text) {
			return true
		}
	}
	return false
}

func TestBot_Readyz(t *testing.T) {
	s := newStack(t)

	resp, err := http.Get(s.url + "/readyz")
	if err != nil {
		t.Fatalf("Readiness check failed: %v", err)
	}
	defer resp.Body.Close()

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK || result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy, got %d %+v", resp.StatusCode, result)
	}
}

func TestBot_MonitorUntilSettled(t *testing.T) {
	s := newStack(t)
	var status atomic.Value
	status.Store(indexer.StatusIndexing)
	base := indexerServer(t, &status)

	reply := s.post(t, "monitor "+base)
	if reply.JobID == 0 {
		t.Fatalf("Expected a job, got %+v", reply)
	}
	if got := s.jobs(t); got.Count != 1 {
		t.Errorf("Expected 1 active job, got %d", got.Count)
	}

	status.Store(indexer.StatusWaiting)

	testutil.MustWaitFor(t, func() bool {
		return s.received("DONE monitoring " + base)
	}, testutil.WithTimeout(10*time.Second))
	testutil.MustWaitFor(t, func() bool {
		return s.jobs(t).Count == 0
	}, testutil.WithTimeout(5*time.Second))
}

func TestBot_CancelJob(t *testing.T) {
	s := newStack(t)
	var status atomic.Value
	status.Store(indexer.StatusIndexing)
	base := indexerServer(t, &status)

	reply := s.post(t, "konitor "+base)
	if reply.JobID == 0 {
		t.Fatalf("Expected a job, got %+v", reply)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/jobs/%d", s.url, reply.JobID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	testutil.MustWaitFor(t, func() bool {
		return s.jobs(t).Count == 0
	}, testutil.WithTimeout(5*time.Second))
	if s.received("DONE") {
		t.Error("Expected no DONE message after cancel")
	}
}

// managedContainer starts a container the bot manages, named name.
func managedContainer(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Fatalf("Failed to create docker client: %v", err)
	}
	t.Cleanup(func() { cli.Close() })

	reader, err := cli.ImagePull(ctx, testImage, image.PullOptions{})
	if err != nil {
		t.Fatalf("Failed to pull %s: %v", testImage, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	scopeKey, scopeValue, _ := strings.Cut(docker.DefaultScopeLabel, "=")
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  testImage,
		Cmd:    []string{"sleep", "300"},
		Labels: map[string]string{scopeKey: scopeValue, docker.SizeLabel: "t2.medium", "Name": name},
	}, nil, nil, nil, name)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	t.Cleanup(func() {
		cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	})

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}
	return created.ID
}

func TestBot_MachineLifecycle(t *testing.T) {
	s := newStack(t)
	name := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	id := managedContainer(t, name)[:12]
	target := fmt.Sprintf("https://%s.example.org", name)

	s.post(t, "ec2 info "+target)
	testutil.MustWaitFor(t, func() bool {
		return s.received(id + " t2.medium running")
	}, testutil.WithTimeout(10*time.Second))

	s.post(t, "ec2 stop "+target)
	testutil.MustWaitFor(t, func() bool {
		return s.received(id + ": running -> stopped")
	}, testutil.WithTimeout(30*time.Second))

	s.post(t, "ec2 resize "+target+" --size t2.micro")
	testutil.MustWaitFor(t, func() bool {
		return s.received("Resized instance " + target + " to t2.micro")
	}, testutil.WithTimeout(10*time.Second))

	s.post(t, "ec2 start "+target)
	testutil.MustWaitFor(t, func() bool {
		return s.received(id + ": stopped -> running")
	}, testutil.WithTimeout(30*time.Second))

	s.post(t, "ec2 ls -f tag:Name="+name)
	testutil.MustWaitFor(t, func() bool {
		return s.received("Showing 1 out of 1:\n0: " + id + " t2.micro running")
	}, testutil.WithTimeout(10*time.Second))
}
