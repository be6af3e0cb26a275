package driver

import "testing"

func TestFakeDriverLifecycle(t *testing.T) {
	d := NewFakeDriver()
	if err := d.InitializeStreaming(); err != nil {
		t.Fatalf("InitializeStreaming: %v", err)
	}
	if !d.Initialized {
		t.Fatal("expected Initialized true")
	}
	d.DeinitializeStreaming()
	if !d.Deinitialized {
		t.Fatal("expected Deinitialized true")
	}
}

func TestFakeDriverCreateTextureIncrements(t *testing.T) {
	d := NewFakeDriver()
	a, err := d.CreateTexture(1920, 1080, 0, 1, false)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	b, _ := d.CreateTexture(1920, 1080, 0, 1, false)
	if b != a+1 {
		t.Fatalf("expected incrementing texture ids, got %d then %d", a, b)
	}
}
