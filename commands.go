package main

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/jacobsa/fuse"
	"github.com/rarydzu/redisdir/processor"
	"github.com/rarydzu/redisdir/redisdir"
	"github.com/rarydzu/redisdir/utils"
	"github.com/rarydzu/redisdir/worker"
	"go.uber.org/zap"
)

type command struct {
	usage   string
	minArgs int
	maxArgs int // -1 unlimited
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"ls":     {usage: "", minArgs: 0, maxArgs: 0, run: cmdList},
	"put":    {usage: "<local> <name>", minArgs: 2, maxArgs: 2, run: cmdPut},
	"get":    {usage: "<name> [local]", minArgs: 1, maxArgs: 2, run: cmdGet},
	"cat":    {usage: "<name>", minArgs: 1, maxArgs: 1, run: cmdCat},
	"rm":     {usage: "<name>...", minArgs: 1, maxArgs: -1, run: cmdRemove},
	"mv":     {usage: "<old> <new>", minArgs: 2, maxArgs: 2, run: cmdMove},
	"stat":   {usage: "<name>", minArgs: 1, maxArgs: 1, run: cmdStat},
	"lock":   {usage: "<name>", minArgs: 1, maxArgs: 1, run: cmdLock},
	"unlock": {usage: "<name>", minArgs: 1, maxArgs: 1, run: cmdUnlock},
	"mount":  {usage: "<mountpoint>", minArgs: 1, maxArgs: 1, run: cmdMount},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cmdList(ctx context.Context, a *app, _ []string) error {
	names, err := a.dir.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		size, err := a.dir.FileLength(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%12d %s\n", size, name)
	}
	return nil
}

// cmdPut replaces name with the content of a local file
func cmdPut(ctx context.Context, a *app, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	if err := a.dir.DeleteFile(ctx, args[1]); err != nil {
		return err
	}
	w, err := a.dir.CreateOutput(ctx, args[1])
	if err != nil {
		return err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %d bytes, crc32 %08x\n", args[1], n, w.Checksum())
	return nil
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	r, err := a.dir.OpenInput(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	if len(args) == 1 {
		_, err = io.Copy(a.out, r)
		return err
	}
	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cmdCat(ctx context.Context, a *app, args []string) error {
	return cmdGet(ctx, a, args[:1])
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	for _, name := range args {
		if err := a.dir.DeleteFile(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func cmdMove(ctx context.Context, a *app, args []string) error {
	return a.dir.RenameFile(ctx, args[0], args[1])
}

func cmdStat(ctx context.Context, a *app, args []string) error {
	r, err := a.dir.OpenInput(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, r); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "name:   %s\nlength: %d\nblocks: %d\ncrc32:  %08x\n",
		args[0], r.Length(), utils.CeilDiv(r.Length(), redisdir.BlockSize), crc.Sum32())
	return nil
}

// cmdLock holds the lock until SIGINT or SIGTERM
func cmdLock(ctx context.Context, a *app, args []string) error {
	lock, err := a.dir.ObtainLock(ctx, args[0])
	if err != nil {
		return err
	}
	p := processor.New(a.cfg.ShutdownTimeout, a.log)
	if err := p.Register(processor.Shutdown, "lock", lock.Close); err != nil {
		lock.Close()
		return err
	}
	if err := p.Run(); err != nil {
		lock.Close()
		return err
	}
	a.log.Infof("holding lock %s", args[0])
	return p.Wait()
}

// cmdUnlock clears a lock regardless of its holder
func cmdUnlock(ctx context.Context, a *app, args []string) error {
	return a.dir.CreateLock(args[0]).Release(ctx)
}

func cmdMount(_ context.Context, a *app, args []string) error {
	a.cfg.MountPoint = args[0]
	mountCfg := &fuse.MountConfig{
		ReadOnly:    true,
		ErrorLogger: zap.NewStdLog(a.log.Desugar()),
		FSName:      "redisdir",
	}
	if a.fuseDebug {
		mountCfg.DebugLogger = zap.NewStdLog(a.log.Desugar())
	}
	w, err := worker.New(a.cfg, a.dir, mountCfg, a.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	return w.Wait()
}
