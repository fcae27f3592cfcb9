package semaphore_test

import (
	"context"
	"fmt"

	"github.com/kolosys/pipelinekit/semaphore"
)

func ExampleSemaphore_Acquire() {
	sem := semaphore.New(2)
	defer sem.Close()

	permit, err := sem.Acquire(context.Background(), 1)
	if err != nil {
		fmt.Println("acquire failed:", err)
		return
	}
	defer permit.Release()

	fmt.Println("available:", sem.Available())
	// Output: available: 1
}

func ExampleSemaphore_TryAcquire() {
	sem := semaphore.New(1)
	defer sem.Close()

	permit, ok := sem.TryAcquire(1)
	if !ok {
		fmt.Println("no permit available")
		return
	}
	defer permit.Release()

	_, ok = sem.TryAcquire(1)
	fmt.Println("second try acquire ok:", ok)
	// Output: second try acquire ok: false
}
