package ingestion_engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/markdave123-py/uwia/internal/core"
)

// fakePdftoppm writes "<png header>page-<n>" to <prefix>.png for each call.
type fakePdftoppm struct {
	mu    sync.Mutex
	args  [][]string
	fail  map[string]bool
	err   error
	block bool
}

func (f *fakePdftoppm) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.args = append(f.args, append([]string{name}, args...))
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if f.err != nil {
		return nil, []byte("boom"), f.err
	}
	page := args[4]
	if f.fail[page] {
		return nil, []byte("bad page"), errors.New("exit status 1")
	}
	prefix := args[len(args)-1]
	return nil, nil, os.WriteFile(prefix+".png", []byte("\x89PNGpage-"+page), 0o600)
}

func TestDPIForScale(t *testing.T) {
	cases := map[float64]int{0: 144, 1: 72, 2: 144, 4.17: 300, 0.1: minDPI, 20: maxDPI}
	for scale, want := range cases {
		if got := dpiFor(scale); got != want {
			t.Errorf("dpiFor(%v) = %d, want %d", scale, got, want)
		}
	}
}

func TestRasterizeRendersEachPage(t *testing.T) {
	run := &fakePdftoppm{}
	r := NewPDFRasterizer("/opt/poppler/pdftoppm", time.Second, quietLogger()).WithRunner(run)

	imgs, err := r.Rasterize(context.Background(), []byte("%PDF-1.7"), []int{1, 3}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(imgs[1]) != "\x89PNGpage-1" || string(imgs[3]) != "\x89PNGpage-3" || len(imgs) != 2 {
		t.Fatalf("images = %q", imgs)
	}
	want := []string{"/opt/poppler/pdftoppm", "-r", "144", "-png", "-f", "3", "-l", "3", "-singlefile"}
	if got := run.args[1][:len(want)]; !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v", got)
	}
}

func TestRasterizeSkipsPagesThatFailToRender(t *testing.T) {
	run := &fakePdftoppm{fail: map[string]bool{"2": true}}
	r := NewPDFRasterizer("", time.Second, quietLogger()).WithRunner(run)

	// The buffer is not a parseable PDF, so the embedded-image fallback finds nothing
	// and the rendered pages are returned alone.
	imgs, err := r.Rasterize(context.Background(), []byte("%PDF-1.7"), []int{1, 2}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := imgs[2]; ok || len(imgs) != 1 {
		t.Fatalf("images = %q", imgs)
	}
	if run.args[0][0] != "pdftoppm" {
		t.Fatalf("default binary = %q", run.args[0][0])
	}
}

func TestRasterizeWithoutPdftoppmFallsBack(t *testing.T) {
	run := &fakePdftoppm{err: exec.ErrNotFound}
	r := NewPDFRasterizer("", time.Second, quietLogger()).WithRunner(run)

	_, err := r.Rasterize(context.Background(), []byte("not a pdf"), []int{1, 2}, 1)
	if err == nil {
		t.Fatal("unreadable document with no renderer should fail")
	}
	if len(run.args) != 1 {
		t.Fatalf("renderer retried %d times after not being found", len(run.args))
	}
}

func TestRasterizeTimeout(t *testing.T) {
	r := NewPDFRasterizer("", 30*time.Millisecond, quietLogger()).WithRunner(&fakePdftoppm{block: true})

	_, err := r.Rasterize(context.Background(), []byte("%PDF-1.7"), []int{1, 2, 3}, 2)
	if !errors.Is(err, core.ErrConversionTimeout) {
		t.Fatalf("err = %v", err)
	}
}
