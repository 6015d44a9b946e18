//go:build darwin || linux

package nettools

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	ctors[ModeSelect] = func() (Poller, error) { return &selectPoller{}, nil }
}

// selectPoller is the last-resort mechanism, kept mainly so a platform
// missing poll(2) (none in practice, but the teacher package kept this
// tier too) still gets a working reactor.
type selectPoller struct{}

func (*selectPoller) Wait(interests []Interest, timeout time.Duration) ([]Ready, error) {
	var rset, wset unix.FdSet
	nfds := 0
	for _, in := range interests {
		if in.FD < 0 {
			continue
		}
		if in.Read {
			rset.Set(in.FD)
		}
		if in.Write {
			wset.Set(in.FD)
		}
		if in.FD+1 > nfds {
			nfds = in.FD + 1
		}
	}
	if nfds == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}
	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(int64(timeout))
		tv = &t
	}
	n, err := unix.Select(nfds, &rset, &wset, nil, tv)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]Ready, 0, n)
	for _, in := range interests {
		if in.FD < 0 {
			continue
		}
		r := in.Read && rset.IsSet(in.FD)
		w := in.Write && wset.IsSet(in.FD)
		if r || w {
			out = append(out, Ready{FD: in.FD, Read: r, Write: w})
		}
	}
	return out, nil
}

func (*selectPoller) Close() error { return nil }
