// Package worker mounts a Directory through fusefs and keeps it mounted
// until shutdown
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jinzhu/copier"
	"github.com/rarydzu/redisdir/config"
	"github.com/rarydzu/redisdir/fusefs"
	"github.com/rarydzu/redisdir/processor"
	"github.com/rarydzu/redisdir/redisdir"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type Worker struct {
	sync.RWMutex
	active    bool
	Processor *processor.Processor
	log       *zap.SugaredLogger
	dir       *redisdir.Directory
	fsServer  fuse.Server
	fusemfs   *fuse.MountedFileSystem
	cfg       *config.Config
	mountCfg  *fuse.MountConfig
	unmount   func(dir string) error
}

func New(cfg *config.Config, dir *redisdir.Directory, mountCfg *fuse.MountConfig, log *zap.SugaredLogger) (*Worker, error) {
	w := &Worker{
		log:      log,
		dir:      dir,
		cfg:      &config.Config{},
		mountCfg: mountCfg,
		unmount:  fuse.Unmount,
	}
	if err := copier.Copy(w.cfg, cfg); err != nil {
		return nil, err
	}
	if w.cfg.MountPoint == "" {
		return nil, fmt.Errorf("mount point is not set")
	}
	mp, err := filepath.Abs(w.cfg.MountPoint)
	if err != nil {
		return nil, err
	}
	w.cfg.MountPoint = mp
	fs, err := fusefs.New(dir, log)
	if err != nil {
		return nil, err
	}
	w.fsServer = fusefs.NewServer(fs)
	return w, nil
}

// Start mounts the file system and starts signal processing
func (w *Worker) Start() error {
	w.Lock()
	defer w.Unlock()
	if w.active {
		return fmt.Errorf("worker already active")
	}
	mfs, err := fuse.Mount(w.cfg.MountPoint, w.fsServer, w.mountCfg)
	if err != nil {
		return fmt.Errorf("mount %s: %w", w.cfg.MountPoint, err)
	}
	w.fusemfs = mfs
	w.active = true
	w.Processor = processor.New(w.cfg.ShutdownTimeout, w.log)
	if err := w.Processor.Register(processor.Shutdown, "filesystem", w.shutdown); err != nil {
		return w.abortMount(err)
	}
	if err := w.Processor.Run(); err != nil {
		return w.abortMount(err)
	}
	return nil
}

// abortMount undoes a mount made by Start and returns cause
func (w *Worker) abortMount(cause error) error {
	if err := w.unmount(w.cfg.MountPoint); err != nil {
		w.log.Errorf("unmount (%s) after failed start: %v", w.cfg.MountPoint, err)
	}
	w.fusemfs = nil
	w.active = false
	return cause
}

// shutdown unmounts before the directory is closed
func (w *Worker) shutdown() error {
	if err := w.Umount(); err != nil {
		return err
	}
	return w.dir.Close()
}

// Umount unmounts, retrying while the mount is busy and killing processes
// holding it after half of the shutdown timeout
func (w *Worker) Umount() error {
	tStart := time.Now()
	delay := 10 * time.Millisecond
	killed := false
	for {
		if !killed && time.Since(tStart) > w.cfg.ShutdownTimeout/2 {
			w.log.Infof("Timeout exceeded; killing processes")
			if err := w.Kill(); err != nil {
				w.log.Errorf("error killing processes: %v", err)
			}
			killed = true
		}
		err := w.unmount(w.cfg.MountPoint)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "resource busy") {
			w.log.Infof("Resource busy error while unmounting; trying again")
			time.Sleep(delay)
			delay = time.Duration(1.3 * float64(delay))
			continue
		}
		return fmt.Errorf("unmount (%s): %v", w.cfg.MountPoint, err)
	}
}

// underMount reports whether path is the mount point or inside it
func underMount(path, mountPoint string) bool {
	rel, err := filepath.Rel(mountPoint, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Kill kills every other process with an open file under the mount point
func (w *Worker) Kill() error {
	myPid := os.Getpid()
	processes, err := process.Processes()
	if err != nil {
		return err
	}
	for _, p := range processes {
		if p.Pid == int32(myPid) {
			continue
		}
		openFiles, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range openFiles {
			if underMount(f.Path, w.cfg.MountPoint) {
				w.log.Infof("Killing process %d holding %s", p.Pid, f.Path)
				if err := p.Kill(); err != nil {
					w.log.Errorf("error killing process %d: %v", p.Pid, err)
				}
				break
			}
		}
	}
	return nil
}

// Wait blocks until shutdown is done and the mount is gone
func (w *Worker) Wait() error {
	err := w.Processor.Wait()
	if jerr := w.fusemfs.Join(context.Background()); jerr != nil {
		w.log.Errorf("redisdir join: %v", jerr)
	}
	return err
}
