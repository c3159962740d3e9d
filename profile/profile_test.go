package profile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/autoencoder"
	"github.com/RyanBlaney/sonido-sentinel/kv"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/storage"
	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

var testShape = tensor.Shape{Height: 8, Width: 8, Channels: 1}

func testModel(t *testing.T, seed uint64) *autoencoder.Model {
	t.Helper()
	cfg := autoencoder.DefaultConfig()
	cfg.EncoderFilters = 4
	cfg.BottleneckFilters = 2
	cfg.Seed = seed
	m, err := autoencoder.Build(testShape, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func modelBytes(t *testing.T, m *autoencoder.Model) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type backend struct {
	store Store
	// setModel and delMeta reach past the store to tamper with its records.
	setModel func(data []byte)
	delMeta  func()
}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	ctx := context.Background()

	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mem := storage.NewMemory()

	badger, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { badger.Close() })

	fileBackend := func(fs storage.FileStore) backend {
		return backend{
			store: NewFiles(fs),
			setModel: func(data []byte) {
				if err := storage.WriteFile(ctx, fs, ModelPath("idle"), data); err != nil {
					t.Fatal(err)
				}
			},
			delMeta: func() { fs.Delete(ctx, MetaPath("idle")) },
		}
	}
	kvBackend := func(s kv.Store) backend {
		return backend{
			store: NewKV(s),
			setModel: func(data []byte) {
				if err := s.Set(ctx, modelKey("idle"), data); err != nil {
					t.Fatal(err)
				}
			},
			delMeta: func() { s.Delete(ctx, metaKey("idle")) },
		}
	}

	return map[string]backend{
		"local":  fileBackend(local),
		"memory": fileBackend(mem),
		"s3":     fileBackend(storage.NewS3(newFakeS3(), "bucket", "profiles")),
		"kv":     kvBackend(kv.NewMemory()),
		"badger": kvBackend(badger),
	}
}

func TestSaveLoad(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if ok, err := b.store.Exists(ctx, "idle"); err != nil || ok {
				t.Fatalf("Exists before save = %v, %v", ok, err)
			}
			if _, err := b.store.Load(ctx, "idle"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load before save err = %v", err)
			}
			if _, err := b.store.Status(ctx, "idle"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Status before save err = %v", err)
			}

			model := testModel(t, 1)
			meta, err := b.store.Save(ctx, "idle", model, Meta{
				Threshold:  0.0123,
				MaxError:   0.0112,
				Windows:    30,
				SampleRate: 22050,
			})
			if err != nil {
				t.Fatal(err)
			}
			if meta.Generation == "" || len(meta.ModelSHA256) != 64 || meta.TrainedAt.IsZero() {
				t.Fatalf("stored meta not filled in: %+v", meta)
			}
			if meta.InputShape != testShape {
				t.Fatalf("InputShape = %v", meta.InputShape)
			}

			if ok, err := b.store.Exists(ctx, "idle"); err != nil || !ok {
				t.Fatalf("Exists after save = %v, %v", ok, err)
			}
			p, err := b.store.Load(ctx, "idle")
			if err != nil {
				t.Fatal(err)
			}
			if p.Mode != "idle" || p.Meta.Threshold != 0.0123 || p.Meta.Windows != 30 {
				t.Fatalf("loaded %+v", p.Meta)
			}
			if p.Meta.Generation != meta.Generation {
				t.Fatalf("generation %q, want %q", p.Meta.Generation, meta.Generation)
			}
			if !bytes.Equal(modelBytes(t, p.Model), modelBytes(t, model)) {
				t.Fatal("loaded model differs from saved model")
			}

			st, err := b.store.Status(ctx, "idle")
			if err != nil {
				t.Fatal(err)
			}
			if st.Threshold != 0.0123 {
				t.Fatalf("Status threshold = %v", st.Threshold)
			}

			// other modes are untouched
			if ok, _ := b.store.Exists(ctx, "fast"); ok {
				t.Fatal("fast profile should not exist")
			}
		})
	}
}

func TestSaveReplaces(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := b.store.Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.5})
			if err != nil {
				t.Fatal(err)
			}
			second, err := b.store.Save(ctx, "idle", testModel(t, 2), Meta{Threshold: 0.25})
			if err != nil {
				t.Fatal(err)
			}
			if first.Generation == second.Generation {
				t.Fatal("expected a new generation")
			}
			p, err := b.store.Load(ctx, "idle")
			if err != nil {
				t.Fatal(err)
			}
			if p.Meta.Threshold != 0.25 || p.Meta.Generation != second.Generation {
				t.Fatalf("loaded %+v", p.Meta)
			}
		})
	}
}

func TestMissingMetaMeansNotTrained(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := b.store.Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
				t.Fatal(err)
			}
			b.delMeta()
			if ok, err := b.store.Exists(ctx, "idle"); err != nil || ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
			if _, err := b.store.Load(ctx, "idle"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load err = %v", err)
			}
		})
	}
}

func TestCorruptModel(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := b.store.Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
				t.Fatal(err)
			}

			// A valid artifact that does not match the recorded digest.
			b.setModel(modelBytes(t, testModel(t, 9)))
			_, err := b.store.Load(ctx, "idle")
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("mismatched digest err = %v", err)
			}

			b.setModel([]byte("not msgpack"))
			if _, err := b.store.Load(ctx, "idle"); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("garbage model err = %v", err)
			}
		})
	}
}

func TestCorruptMeta(t *testing.T) {
	ctx := context.Background()
	fs := storage.NewMemory()
	store := NewFiles(fs)
	if _, err := store.Save(ctx, "slow", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		"not json":           "{threshold",
		"negative threshold": `{"threshold": -1}`,
		"string threshold":   `{"threshold": "high"}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if err := storage.WriteFile(ctx, fs, MetaPath("slow"), []byte(data)); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Load(ctx, "slow"); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Load err = %v", err)
			}
			if _, err := store.Status(ctx, "slow"); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Status err = %v", err)
			}
		})
	}
}

func TestThresholdOnlyMeta(t *testing.T) {
	ctx := context.Background()
	fs := storage.NewMemory()
	model := testModel(t, 3)
	storage.WriteFile(ctx, fs, ModelPath("fast"), modelBytes(t, model))
	storage.WriteFile(ctx, fs, MetaPath("fast"), []byte(`{"threshold": 0.042}`))

	p, err := NewFiles(fs).Load(ctx, "fast")
	if err != nil {
		t.Fatal(err)
	}
	if p.Meta.Threshold != 0.042 {
		t.Fatalf("threshold = %v", p.Meta.Threshold)
	}
}

func TestShapeMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	fs := storage.NewMemory()
	store := NewFiles(fs)
	if _, err := store.Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}
	meta, err := storage.ReadFile(ctx, fs, MetaPath("idle"))
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(meta), `"height": 8`, `"height": 16`, 1)
	if edited == string(meta) {
		t.Fatal("metadata layout changed; update test")
	}
	storage.WriteFile(ctx, fs, MetaPath("idle"), []byte(edited))

	if _, err := store.Load(ctx, "idle"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v", err)
	}
}

// racyFS serves a stale metadata file on the first read only, the way a
// reader can observe a save between its two reads.
type racyFS struct {
	storage.FileStore
	stale []byte
	reads int
}

func (r *racyFS) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "meta_") {
		r.reads++
		if r.reads == 1 {
			return io.NopCloser(bytes.NewReader(r.stale)), nil
		}
	}
	return r.FileStore.Read(ctx, path)
}

func TestLoadRereadsOnDigestMismatch(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	store := NewFiles(mem)
	if _, err := store.Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}
	stale, _ := storage.ReadFile(ctx, mem, MetaPath("idle"))
	if _, err := store.Save(ctx, "idle", testModel(t, 2), Meta{Threshold: 0.2}); err != nil {
		t.Fatal(err)
	}

	racy := &racyFS{FileStore: mem, stale: stale}
	p, err := NewFiles(racy).Load(ctx, "idle")
	if err != nil {
		t.Fatal(err)
	}
	if p.Meta.Threshold != 0.2 {
		t.Fatalf("threshold = %v, want 0.2", p.Meta.Threshold)
	}
	if racy.reads != 2 {
		t.Fatalf("metadata read %d times, want 2", racy.reads)
	}
}

func TestInvalidMode(t *testing.T) {
	store := NewFiles(storage.NewMemory())
	ctx := context.Background()
	for _, mode := range []string{"", "../etc", "IDLE", "a:b"} {
		if _, err := store.Exists(ctx, mode); err == nil {
			t.Fatalf("Exists(%q) accepted", mode)
		}
		if _, err := NewKV(kv.NewMemory()).Load(ctx, mode); err == nil {
			t.Fatalf("KV Load(%q) accepted", mode)
		}
	}
}

func TestSaveKeepsTrainedAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta, err := NewKV(kv.NewMemory()).Save(context.Background(), "idle", testModel(t, 1),
		Meta{Threshold: 0.1, TrainedAt: at})
	if err != nil {
		t.Fatal(err)
	}
	if !meta.TrainedAt.Equal(at) {
		t.Fatalf("TrainedAt = %v", meta.TrainedAt)
	}
}

func TestStoredMetaIsJSON(t *testing.T) {
	ctx := context.Background()
	fs := storage.NewMemory()
	if _, err := NewFiles(fs).Save(ctx, "idle", testModel(t, 1), Meta{Threshold: 0.5}); err != nil {
		t.Fatal(err)
	}
	data, err := storage.ReadFile(ctx, fs, MetaPath("idle"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"threshold": 0.5`) {
		t.Fatalf("metadata = %s", data)
	}
	if _, err := storage.ReadFile(ctx, fs, "meta_slow.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected file for slow: %v", err)
	}
}

// metaWriteFails rejects every metadata write once armed.
type metaWriteFails struct {
	storage.FileStore
	armed bool
}

func (m *metaWriteFails) Write(ctx context.Context, path string) (io.WriteCloser, error) {
	if m.armed && strings.HasPrefix(path, "meta_") {
		return nil, errors.New("disk full")
	}
	return m.FileStore.Write(ctx, path)
}

func TestFailedSaveKeepsPreviousProfile(t *testing.T) {
	ctx := context.Background()
	fs := &metaWriteFails{FileStore: storage.NewMemory()}
	store := NewFiles(fs)

	old := testModel(t, 1)
	if _, err := store.Save(ctx, "idle", old, Meta{Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}

	fs.armed = true
	if _, err := store.Save(ctx, "idle", testModel(t, 2), Meta{Threshold: 0.2}); err == nil {
		t.Fatal("expected metadata write error")
	}
	fs.armed = false

	p, err := store.Load(ctx, "idle")
	if err != nil {
		t.Fatalf("previous profile lost: %v", err)
	}
	if p.Meta.Threshold != 0.1 {
		t.Fatalf("threshold = %v, want 0.1", p.Meta.Threshold)
	}
	if !bytes.Equal(modelBytes(t, p.Model), modelBytes(t, old)) {
		t.Fatal("model is not the previous one")
	}
}

func TestFailedFirstSaveLeavesNothing(t *testing.T) {
	ctx := context.Background()
	fs := &metaWriteFails{FileStore: storage.NewMemory(), armed: true}
	store := NewFiles(fs)

	if _, err := store.Save(ctx, "slow", testModel(t, 1), Meta{Threshold: 0.1}); err == nil {
		t.Fatal("expected metadata write error")
	}
	if ok, _ := fs.Exists(ctx, ModelPath("slow")); ok {
		t.Fatal("model left behind by failed save")
	}
	if _, err := store.Load(ctx, "slow"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// staleMeta always serves the same metadata file.
type staleMeta struct {
	storage.FileStore
	meta []byte
}

func (s *staleMeta) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "meta_") {
		return io.NopCloser(bytes.NewReader(s.meta)), nil
	}
	return s.FileStore.Read(ctx, path)
}

func TestLoadWarnsOnlyBeforeReread(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	seed := NewFiles(mem)
	if _, err := seed.Save(ctx, "fast", testModel(t, 1), Meta{Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}
	stale, _ := storage.ReadFile(ctx, mem, MetaPath("fast"))
	if _, err := seed.Save(ctx, "fast", testModel(t, 2), Meta{Threshold: 0.2}); err != nil {
		t.Fatal(err)
	}

	var warnings bytes.Buffer
	prev := logging.GetGlobalLogger()
	logging.SetGlobalLogger(logging.NewDefaultLoggerWithWriters(io.Discard, &warnings, false))
	defer logging.SetGlobalLogger(prev)

	_, err := NewFiles(&staleMeta{FileStore: mem, meta: stale}).Load(ctx, "fast")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if n := strings.Count(warnings.String(), "re-reading"); n != 1 {
		t.Fatalf("re-read warning logged %d times, want 1:\n%s", n, warnings.String())
	}
}
