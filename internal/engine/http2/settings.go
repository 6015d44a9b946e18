package http2

import "golang.org/x/net/http2"

// peerSettings/selfSettings mirror the teacher's controller/settings.go
// fixed-size table but drop its mutex and callback registry — this engine
// runs on a single reactor goroutine, so nothing else can race a SETTINGS
// update in.
type peerSettings struct {
	headerTableSize      uint32
	enablePush           bool
	maxConcurrentStreams uint32
	initialWindowSize    uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
}

func defaultPeerSettings() peerSettings {
	return peerSettings{
		headerTableSize:      4096,
		enablePush:           true,
		maxConcurrentStreams: 100,
		initialWindowSize:    65535,
		maxFrameSize:         16384,
		maxHeaderListSize:    0xffffffff,
	}
}

type selfSettings struct {
	headerTableSize      uint32
	maxConcurrentStreams uint32
	initialWindowSize    uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
}

func defaultSelfSettings() selfSettings {
	return selfSettings{
		headerTableSize:      4096,
		maxConcurrentStreams: 1000,
		initialWindowSize:    4 << 20,
		maxFrameSize:         1 << 16,
		maxHeaderListSize:    10 << 20,
	}
}

func (e *Engine) outboundSettings() []http2.Setting {
	return []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: e.selfSettings.headerTableSize},
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingMaxConcurrentStreams, Val: e.selfSettings.maxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Val: e.selfSettings.initialWindowSize},
		{ID: http2.SettingMaxFrameSize, Val: e.selfSettings.maxFrameSize},
		{ID: http2.SettingMaxHeaderListSize, Val: e.selfSettings.maxHeaderListSize},
	}
}

// applyPeerSettings updates peerSettings from a received SETTINGS frame
// and reports the change in initial window size, if any, so the caller
// can adjust every open stream's outflow (RFC 7540 §6.9.2).
func (e *Engine) applyPeerSettings(f *http2.SettingsFrame) (windowDelta int64, err error) {
	prevWindow := int64(e.peerSettings.initialWindowSize)
	err = f.ForeachSetting(func(s http2.Setting) error {
		if verr := s.Valid(); verr != nil {
			return verr
		}
		switch s.ID {
		case http2.SettingHeaderTableSize:
			e.peerSettings.headerTableSize = s.Val
		case http2.SettingEnablePush:
			e.peerSettings.enablePush = s.Val != 0
		case http2.SettingMaxConcurrentStreams:
			e.peerSettings.maxConcurrentStreams = s.Val
		case http2.SettingInitialWindowSize:
			e.peerSettings.initialWindowSize = s.Val
		case http2.SettingMaxFrameSize:
			e.peerSettings.maxFrameSize = s.Val
		case http2.SettingMaxHeaderListSize:
			e.peerSettings.maxHeaderListSize = s.Val
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(e.peerSettings.initialWindowSize) - prevWindow, nil
}
