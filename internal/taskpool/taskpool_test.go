package taskpool

import "testing"

func TestPostQueuesWhenNotOnVMThread(t *testing.T) {
	p := New(func() bool { return false })
	ran := false
	p.Post(func() { ran = true })
	if ran {
		t.Fatalf("expected job to be queued, not run inline")
	}
	p.Drain()
	if !ran {
		t.Fatalf("expected job to run after Drain")
	}
}

func TestPostRunsInlineOnVMThread(t *testing.T) {
	p := New(func() bool { return true })
	ran := false
	p.Post(func() { ran = true })
	if !ran {
		t.Fatalf("expected job to run inline")
	}
	if p.Len() != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestDrainRunsInFIFOOrder(t *testing.T) {
	p := New(func() bool { return false })
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		p.Post(func() { order = append(order, i) })
	}
	p.Drain()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}
