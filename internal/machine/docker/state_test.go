package docker

import (
	"sync"
	"testing"
)

func TestSizeRepo(t *testing.T) {
	t.Parallel()
	repo := newSizeRepo()

	if _, ok := repo.get("abc"); ok {
		t.Error("Expected no size before set")
	}

	repo.set("abc", "t2.micro")
	repo.set("abc", "t2.large")

	size, ok := repo.get("abc")
	if !ok || size != "t2.large" {
		t.Errorf("get() = %q, %v; want t2.large", size, ok)
	}
}

func TestSizeRepo_Concurrent(t *testing.T) {
	t.Parallel()
	repo := newSizeRepo()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.set("abc", "t2.micro")
			_, _ = repo.get("abc")
		}()
	}
	wg.Wait()

	if size, _ := repo.get("abc"); size != "t2.micro" {
		t.Errorf("Expected t2.micro, got %q", size)
	}
}
