// Package processor runs registered operations on shutdown and reload
// signals
package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type Processor struct {
	ForceShutdownTimeout time.Duration // force shutdown timeout
	rChan                chan os.Signal
	mu                   sync.Mutex
	stop                 context.CancelFunc
	shutOps              map[string]func() error
	reloadOps            map[string]func() error
	wg                   sync.WaitGroup
	log                  *zap.SugaredLogger
	exit                 func(code int)
	err                  error
}

// New creates new processor
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal, 1),
		shutOps:              map[string]func() error{},
		reloadOps:            map[string]func() error{},
		log:                  log,
		exit:                 os.Exit,
	}
}

// Run starts processing SIGINT/SIGTERM as shutdown and SIGHUP as reload
func (p *Processor) Run() error {
	return p.RunContext(context.Background())
}

// RunContext is Run, cancelling parent starts shutdown as well
func (p *Processor) RunContext(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("processor already running")
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	p.stop = stop
	signal.Notify(p.rChan, syscall.SIGHUP)
	ctxReload, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go p.processReloadSignal(ctxReload)
	go p.processStopSignal(ctx, cancel)
	return nil
}

// Stop starts shutdown as a signal would
func (p *Processor) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// processReloadSignal calls reload operations on every SIGHUP until ctx is done
func (p *Processor) processReloadSignal(ctx context.Context) {
	defer p.wg.Done()
	defer signal.Stop(p.rChan)
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("shutdown reload")
			return
		case <-p.rChan:
			if err := p.callProcess(Reload); err != nil {
				p.log.Warnf("reload: %v", err)
			}
		}
	}
}

// processStopSignal runs shutdown operations and exits the process when they
// do not finish within ForceShutdownTimeout
func (p *Processor) processStopSignal(ctx context.Context, cancelReload context.CancelFunc) {
	defer p.wg.Done()
	<-ctx.Done()
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("timeout %d ms has been elapsed, force exit", p.ForceShutdownTimeout.Milliseconds())
		p.exit(1)
	})
	defer tF.Stop()
	err := p.Shutdown()
	p.mu.Lock()
	p.err = err
	p.stop()
	p.mu.Unlock()
	cancelReload()
}

// callProcess executes all operations registered for process concurrently
// and returns the first failure
func (p *Processor) callProcess(process string) error {
	p.mu.Lock()
	src := p.shutOps
	if process == Reload {
		src = p.reloadOps
	}
	ops := make(map[string]func() error, len(src))
	for name, op := range src {
		ops[name] = op
	}
	p.mu.Unlock()

	var g errgroup.Group
	for name, op := range ops {
		name, op := name, op
		g.Go(func() error {
			if err := op(); err != nil {
				p.log.Warnf("%s %s: failed (%s)", process, name, err.Error())
				return fmt.Errorf("%s %s: %w", process, name, err)
			}
			p.log.Infof("%s %s: succeeded", process, name)
			return nil
		})
	}
	err := g.Wait()
	p.log.Infof("%s sequence completed", process)
	return err
}

// Register registers shutdown or reload operation
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch process {
	case Shutdown:
		p.shutOps[operationName] = operationFunction
	case Reload:
		p.reloadOps[operationName] = operationFunction
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown runs all shutdown operations
func (p *Processor) Shutdown() error {
	return p.callProcess(Shutdown)
}

// Wait blocks until shutdown finished and returns its first failure
func (p *Processor) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
