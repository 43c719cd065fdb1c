//go:build linux

package netns

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/prometheus/procfs"
	"github.com/rjeczalik/notify"
	"github.com/vishvananda/netns"
)

// Add creates a named namespace. Creating it moves the calling thread into
// it, so we pin the goroutine to its thread and move back before returning,
// whether or not the namespace could be created. Should moving back fail the
// thread stays locked, and the runtime discards it once the goroutine exits.
func Add(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	runtime.LockOSThread()

	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("couldn't get the current namespace: %w", err)
	}
	defer orig.Close()

	ns, err := netns.NewNamed(name)
	if err == nil {
		ns.Close()
	}

	if serr := netns.Set(orig); serr != nil {
		logger.Error("thread stuck in a foreign namespace", "name", name, "err", serr)
		serr = fmt.Errorf("couldn't switch back to the original namespace: %w", serr)
		if err != nil {
			return errors.Join(fmt.Errorf("couldn't create namespace %q: %w", name, err), serr)
		}
		return serr
	}
	runtime.UnlockOSThread()

	if err != nil {
		return fmt.Errorf("couldn't create namespace %q: %w", name, err)
	}

	logger.Debug("created network namespace", "name", name)

	return nil
}

func Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("couldn't delete namespace %q: %w", name, err)
	}

	logger.Debug("deleted network namespace", "name", name)

	return nil
}

// Open returns a handle to a named namespace. Its file descriptor is what
// transport.Config.NetNS expects. The caller must close it.
func Open(name string) (netns.NsHandle, error) {
	if err := validName(name); err != nil {
		return netns.None(), err
	}

	h, err := netns.GetFromName(name)
	if err != nil {
		return netns.None(), fmt.Errorf("couldn't open namespace %q: %w", name, err)
	}

	return h, nil
}

// Inode returns the inode number identifying the network namespace of pid.
// A pid of 0 means the calling process.
func Inode(pid int) (uint32, error) {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return 0, fmt.Errorf("couldn't open procfs: %w", err)
	}

	var p procfs.Proc
	if pid == 0 {
		p, err = fs.Self()
	} else {
		p, err = fs.Proc(pid)
	}
	if err != nil {
		return 0, fmt.Errorf("couldn't find process %d: %w", pid, err)
	}

	nss, err := p.Namespaces()
	if err != nil {
		return 0, fmt.Errorf("couldn't read the namespaces of process %d: %w", pid, err)
	}

	ns, ok := nss["net"]
	if !ok {
		return 0, errors.New("no network namespace reported by procfs")
	}

	return ns.Inode, nil
}

// Watch reports namespaces being added to or removed from dir until ctx is
// done, at which point the returned channel is closed.
func Watch(ctx context.Context, dir string) (<-chan Event, error) {
	raw := make(chan notify.EventInfo, 16)
	if err := notify.Watch(dir, raw, notify.Create, notify.Remove); err != nil {
		return nil, fmt.Errorf("couldn't watch %s: %w", dir, err)
	}

	events := make(chan Event, 16)

	go func() {
		defer close(events)
		defer notify.Stop(raw)

		for {
			select {
			case <-ctx.Done():
				return
			case ei := <-raw:
				ev := Event{Name: filepath.Base(ei.Path()), Op: Added}
				if ei.Event() == notify.Remove {
					ev.Op = Removed
				}
				logger.Debug("namespace change", "name", ev.Name, "op", ev.Op)

				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
