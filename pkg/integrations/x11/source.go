package x11

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/appresence/appresence/pkg/usage"
)

const (
	sampleInterval = time.Second
	retention      = 5 * time.Minute
	maxEvents      = 1024
)

// Source implements usage.Source on top of an X11 connection. X11 has no
// transition-event query, so the source samples the active window and
// synthesizes foreground/background transitions into a bounded buffer.
type Source struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
	log   zerolog.Logger

	mu       sync.Mutex
	events   []usage.Event
	lastUsed map[string]int64
	labels   map[string]string
	current  string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSource connects to the X server and starts the sampling loop.
func NewSource(logger zerolog.Logger) (*Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, err
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	s := &Source{
		conn:     conn,
		root:     root,
		atoms:    make(map[string]xproto.Atom),
		log:      logger.With().Str("component", "x11-source").Logger(),
		lastUsed: make(map[string]int64),
		labels:   make(map[string]string),
		stop:     make(chan struct{}),
	}

	atomNames := []string{
		"_NET_ACTIVE_WINDOW",
		"_NET_WM_NAME",
		"WM_NAME",
		"WM_CLASS",
		"UTF8_STRING",
	}
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.atoms[name] = reply.Atom
	}

	go s.watch()
	return s, nil
}

// IsAvailable checks if the X11 source has a live server connection
func (s *Source) IsAvailable() bool {
	return s.conn != nil
}

// Close stops the sampling loop and closes the X connection
func (s *Source) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
	return nil
}

// Events returns synthesized transitions in [start, end), ordered by time
func (s *Source) Events(start, end int64) ([]usage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []usage.Event
	for _, ev := range s.events {
		if ev.Time >= start && ev.Time < end {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Stats returns last-used aggregates for applications seen in [start, end)
func (s *Source) Stats(start, end int64) ([]usage.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []usage.Stat
	for pkg, ts := range s.lastUsed {
		if ts >= start && ts < end {
			out = append(out, usage.Stat{Package: pkg, LastUsed: ts})
		}
	}
	return out, nil
}

// Label resolves the WM_CLASS class name recorded for a package
func (s *Source) Label(pkg string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label, ok := s.labels[pkg]; ok && label != "" {
		return label, nil
	}
	return "", nil
}

func (s *Source) watch() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sample(time.Now().UnixMilli())
		}
	}
}

// sample reads the active window once and records a background/foreground
// transition pair when focus moved to a different application.
func (s *Source) sample(now int64) {
	window := s.activeWindow()
	if window == 0 {
		return
	}

	instance, class := s.windowClass(window)
	if class == "" {
		class = instance
	}
	if class == "" {
		return
	}
	pkg := strings.ToLower(class)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.labels[pkg] = class
	s.lastUsed[pkg] = now

	if pkg != s.current {
		if s.current != "" {
			s.append(usage.Event{Package: s.current, Kind: usage.ToBackground, Time: now})
		}
		s.append(usage.Event{Package: pkg, Kind: usage.ToForeground, Time: now})
		s.log.Debug().Str("package", pkg).Msg("focus changed")
		s.current = pkg
	}

	s.prune(now - retention.Milliseconds())
}

func (s *Source) append(ev usage.Event) {
	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

func (s *Source) prune(before int64) {
	i := 0
	for i < len(s.events) && s.events[i].Time < before {
		i++
	}
	if i > 0 {
		s.events = append([]usage.Event{}, s.events[i:]...)
	}
}

func (s *Source) activeWindow() xproto.Window {
	data, err := s.getProperty(s.root, s.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

func (s *Source) windowClass(window xproto.Window) (instance, class string) {
	data, err := s.getProperty(window, s.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil {
		return "", ""
	}
	return parseClassProperty(data)
}

func (s *Source) getProperty(window xproto.Window, atom xproto.Atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(s.conn, false, window, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// parseClassProperty splits the WM_CLASS value, which is two
// null-terminated strings: instance followed by class.
func parseClassProperty(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) > 0 {
		instance = parts[0]
	}
	if len(parts) > 1 {
		class = parts[1]
	}
	return instance, class
}
