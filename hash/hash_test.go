package hash

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sleep(h *Hash, d time.Duration, endSignal chan<- bool) {
	h.Lock("a")
	defer h.Unlock("a")
	time.Sleep(d)
	endSignal <- true
}

func TestHash(t *testing.T) {
	h := New(10)
	endSignal := make(chan bool, 1)
	go sleep(h, 100*time.Millisecond, endSignal)
	select {
	case <-endSignal:
	case <-time.After(2 * time.Second):
		t.Error("TestHash failed")
	}
}

func TestHashSerializesSameKey(t *testing.T) {
	h := New(4)
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Lock("file-id")
			defer h.Unlock("file-id")
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestHashZeroSize(t *testing.T) {
	h := New(0)
	assert.Equal(t, 1, h.Size())
	h.Lock("x")
	h.Unlock("x")
}
