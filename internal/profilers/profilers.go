// Package profilers sets up profiling for the GA3C programs, configured by flags: an HTTP pprof
// server (-prof), a CPU profile (-cpu_profile) and a heap profile written at exit (-mem_profile).
//
// Linking the package installs the flags.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"time"
)

var (
	flagHTTPPort   = flag.Int("prof", -1, "If >= 0, serves pprof on localhost at the given port (0 picks a free port).")
	flagKeepAlive  = flag.Bool("prof_keep_alive", false, "If set with -prof, keeps the program alive at the end, until interrupted, so the profile can be read.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
	flagMemProfile = flag.String("mem_profile", "", "write heap profile to `file` at exit")
)

// Profilers configured by the flags, started with Setup.
type Profilers struct {
	ctx     context.Context
	server  *http.Server
	cpuFile *os.File

	// Addr is the address of the HTTP pprof server, if one was started.
	Addr string
}

// Setup starts the profilers configured by flags. It should be followed by a deferred call to
// Profilers.Stop.
//
// ctx is only used to know when the program was interrupted, see -prof_keep_alive.
func Setup(ctx context.Context) (*Profilers, error) {
	p := &Profilers{ctx: ctx}
	if *flagHTTPPort >= 0 {
		if err := p.startHTTP(*flagHTTPPort); err != nil {
			return nil, err
		}
	}
	if *flagCPUProfile != "" {
		if err := p.startCPU(*flagCPUProfile); err != nil {
			p.Stop()
			return nil, err
		}
	}
	return p, nil
}

func (p *Profilers) startHTTP(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return errors.Wrapf(err, "failed to start the HTTP profiler on port %d", port)
	}
	p.Addr = listener.Addr().String()
	p.server = &http.Server{Addr: p.Addr, Handler: http.DefaultServeMux}
	klog.Infof("Profiler serving on http://%s/debug/pprof", p.Addr)
	klog.Infof("- You can access it with: $ go tool pprof http://%s/debug/pprof/heap", p.Addr)
	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("HTTP profiler failed: %+v", err)
		}
	}()
	return nil
}

func (p *Profilers) startCPU(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not start CPU profile")
	}
	p.cpuFile = f
	return nil
}

// Stop the profilers and write the heap profile, if configured.
//
// With -prof_keep_alive the HTTP profiler is kept serving until the context given to Setup is
// done.
func (p *Profilers) Stop() {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			klog.Errorf("Failed to close CPU profile: %+v", err)
		}
		p.cpuFile = nil
	}
	if *flagMemProfile != "" {
		if err := writeHeapProfile(*flagMemProfile); err != nil {
			klog.Errorf("%+v", err)
		}
	}
	if p.server == nil {
		return
	}
	if *flagKeepAlive && p.ctx.Err() == nil {
		// Garbage collect, to see if there is anything leaking.
		for range 10 {
			runtime.GC()
		}
		klog.Infof("Program finished: kept alive with profiler at http://%s/debug/pprof, interrupt (Ctrl+C) to exit", p.Addr)
		<-p.ctx.Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.server.Shutdown(shutdownCtx)
	p.server = nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create heap profile")
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not write heap profile")
	}
	return f.Close()
}
