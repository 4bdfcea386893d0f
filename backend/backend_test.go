package backend

import (
	"context"
	"errors"
	"testing"
)

type stubBackend struct {
	name    string
	initErr error
	closed  bool
}

func (s *stubBackend) Name() string       { return s.name }
func (s *stubBackend) Init() error        { return s.initErr }
func (s *stubBackend) Close()             { s.closed = true }
func (s *stubBackend) Features() Features { return 0 }

func (s *stubBackend) AllocateBuffer(BufferDesc) (Buffer, error) {
	return nil, ErrNotInitialized
}

func (s *stubBackend) ReleaseBuffer(Buffer) {}

func (s *stubBackend) WriteBuffer(Buffer, uint64, []byte) error {
	return ErrNotInitialized
}

func (s *stubBackend) NewCommandList(string) (CommandList, error) {
	return nil, ErrNotInitialized
}

func (s *stubBackend) SubmitAndWait(context.Context, CommandList) error {
	return ErrNotInitialized
}

func (s *stubBackend) Readback(Buffer, uint64, []byte) error { return ErrReadback }

type stubBuffer struct{ size uint64 }

func (b stubBuffer) Label() string { return "stub" }
func (b stubBuffer) Size() uint64  { return b.size }

func withCleanRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	withCleanRegistry(t)

	Register("stub", func() Backend { return &stubBackend{name: "stub"} })
	if !IsRegistered("stub") {
		t.Fatal("stub backend should be registered")
	}
	b := Get("stub")
	if b == nil {
		t.Fatal("Get(stub) returned nil")
	}
	if b.Name() != "stub" {
		t.Errorf("Name() = %q, want %q", b.Name(), "stub")
	}
	if Get("missing") != nil {
		t.Error("Get(missing) should return nil")
	}

	Unregister("stub")
	if IsRegistered("stub") {
		t.Error("stub backend should be unregistered")
	}
}

func TestRegistryAvailableSorted(t *testing.T) {
	withCleanRegistry(t)

	for _, name := range []string{"zeta", NameSoftware, "alpha"} {
		Register(name, func() Backend { return &stubBackend{name: name} })
	}
	got := Available()
	want := []string{"alpha", NameSoftware, "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Available() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Available()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInitDefaultPriorityAndFallback(t *testing.T) {
	withCleanRegistry(t)

	nativeErr := errors.New("no vulkan")
	Register(NameSoftware, func() Backend { return &stubBackend{name: NameSoftware} })
	Register(NameNative, func() Backend { return &stubBackend{name: NameNative, initErr: nativeErr} })

	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	if b.Name() != NameSoftware {
		t.Errorf("InitDefault() picked %q, want %q after native failed", b.Name(), NameSoftware)
	}

	Register(NameNative, func() Backend { return &stubBackend{name: NameNative} })
	b, err = InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	if b.Name() != NameNative {
		t.Errorf("InitDefault() picked %q, want %q", b.Name(), NameNative)
	}
}

func TestInitDefaultEmpty(t *testing.T) {
	withCleanRegistry(t)

	if _, err := InitDefault(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("InitDefault() error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestInitDefaultReturnsLastError(t *testing.T) {
	withCleanRegistry(t)

	Register(NameNative, func() Backend {
		return &stubBackend{name: NameNative, initErr: ErrDeviceUnavailable}
	})
	if _, err := InitDefault(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("InitDefault() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestCheckBindings(t *testing.T) {
	full := &Bindings{
		Params: stubBuffer{ParamsSize}, Pixels: stubBuffer{16}, Centroids: stubBuffer{16},
		Assignments: stubBuffer{4}, Partials: stubBuffer{32}, Moved: stubBuffer{4},
		Output: stubBuffer{256},
	}
	for k := Kernel(0); k < KernelCount; k++ {
		if err := CheckBindings(k, full); err != nil {
			t.Errorf("CheckBindings(%s, full) = %v", k, err)
		}
	}

	partial := &Bindings{Params: stubBuffer{ParamsSize}, Pixels: stubBuffer{16}}
	if err := CheckBindings(KernelAssign, partial); err == nil {
		t.Error("CheckBindings(assign) should fail without centroids")
	}
	if err := CheckBindings(KernelReduce, nil); err == nil {
		t.Error("CheckBindings(nil) should fail")
	}
}

func TestReduceGroups(t *testing.T) {
	tests := []struct {
		n    uint32
		want uint32
	}{
		{0, 0},
		{1, 1},
		{WorkgroupSize * NSeq, 1},
		{WorkgroupSize*NSeq + 1, 2},
		{MaxPixels, 699051},
	}
	for _, tt := range tests {
		if got := ReduceGroups(tt.n); got != tt.want {
			t.Errorf("ReduceGroups(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestMaxClusters(t *testing.T) {
	tests := []struct {
		n    uint32
		want uint32
	}{
		{1, MaxBindingSize / PartialSize},
		{10000, MaxBindingSize / (2 * PartialSize)},
		{200000, MaxBindingSize / (33 * PartialSize)},
	}
	for _, tt := range tests {
		got := MaxClusters(tt.n)
		if got != tt.want {
			t.Errorf("MaxClusters(%d) = %d, want %d", tt.n, got, tt.want)
		}
		p := NewParams(tt.n, 1, got)
		if size := p.BufferSize("partials"); size > MaxBindingSize {
			t.Errorf("partials for n=%d k=%d = %d bytes, exceeds %d", tt.n, got, size, MaxBindingSize)
		}
		p.K = got + 1
		if size := p.BufferSize("partials"); size <= MaxBindingSize {
			t.Errorf("partials for n=%d k=%d = %d bytes, want > %d", tt.n, got+1, size, MaxBindingSize)
		}
	}
	if MaxClusters(0) != MaxBindingSize/PartialSize {
		t.Error("MaxClusters(0) should treat an empty image as one group")
	}
}

func TestFeaturesHas(t *testing.T) {
	var f Features
	if f.Has(FeatureTimestampQuery) {
		t.Error("empty feature set should not have timestamps")
	}
	f |= FeatureTimestampQuery
	if !f.Has(FeatureTimestampQuery) {
		t.Error("feature set should have timestamps")
	}
}
