package astiavmedia

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

var _ mediaflow.Plugin = (*LogInterceptor)(nil)

// LogInterceptor forwards libav logs to the pipeline logger. Libav's log callback is global which
// means only the last started interceptor receives logs.
type LogInterceptor struct {
	c             *astikit.Closer
	ctx           context.Context
	items         map[string]*logInterceptorItem // Indexed by key
	mi            sync.Mutex                     // Locks items
	o             LogInterceptorOptions
	p             *mediaflow.Pipeline
	previousLevel *astiav.LogLevel
}

type logInterceptorItem struct {
	count     uint
	createdAt time.Time
	fmt       string
	key       string
	ll        astikit.LoggerLevel
	written   uint
}

type LogInterceptorOptions struct {
	Level astiav.LogLevel
	Merge LogInterceptorMergeOptions
}

// LogInterceptorMergeOptions merges logs sharing the same format within a buffer duration.
// Only AllowedCount of them are written, the others are summed up once the buffer expires.
type LogInterceptorMergeOptions struct {
	AllowedCount uint
	Buffer       time.Duration
}

func NewLogInterceptor(o LogInterceptorOptions) *LogInterceptor {
	return &LogInterceptor{
		items: make(map[string]*logInterceptorItem),
		o:     o,
	}
}

func (li *LogInterceptor) Metadata() mediaflow.Metadata {
	return mediaflow.Metadata{Name: "astiavmedia.log_interceptor"}
}

func (li *LogInterceptor) Init(ctx context.Context, c *astikit.Closer, p *mediaflow.Pipeline) error {
	li.c = c
	li.ctx = ctx
	li.p = p
	return nil
}

func (li *LogInterceptor) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Set log level
	ll := astiav.GetLogLevel()
	li.previousLevel = &ll
	astiav.SetLogLevel(li.o.Level)

	// Set log callback
	astiav.SetLogCallback(li.callback)

	// Make sure interceptor is closed properly
	li.c.Add(li.close)

	// Start merger
	if li.o.Merge.Buffer > 0 {
		tc().Do(func() {
			// Tick
			astikit.Tick(ctx, li.o.Merge.Buffer/10, li.tick)
		})
	}
}

func (li *LogInterceptor) close() {
	if li.previousLevel != nil {
		astiav.SetLogLevel(*li.previousLevel)
		li.previousLevel = nil
	}
	astiav.ResetLogCallback()
	li.purge()
}

func (li *LogInterceptor) callback(c astiav.Classer, level astiav.LogLevel, fmt, msg string) {
	// Process message
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}

	// Process format
	fmt = strings.TrimSpace(fmt)
	if fmt == "%s" {
		fmt = msg
	}

	// Process classer
	if c != nil {
		if n, ok := classers.get(c); ok {
			msg += " (" + n + ")"
		} else if cl := c.Class(); cl != nil {
			msg += ": " + cl.String()
		}
	}

	// Get log level
	var ll astikit.LoggerLevel
	switch level {
	case astiav.LogLevelDebug, astiav.LogLevelVerbose:
		ll = astikit.LoggerLevelDebug
	case astiav.LogLevelInfo:
		ll = astikit.LoggerLevelInfo
	case astiav.LogLevelWarning:
		ll = astikit.LoggerLevelWarn
	case astiav.LogLevelError:
		ll = astikit.LoggerLevelError
	case astiav.LogLevelFatal:
		ll = astikit.LoggerLevelError
		msg = "FATAL! " + msg
	case astiav.LogLevelPanic:
		ll = astikit.LoggerLevelError
		msg = "PANIC! " + msg
	default:
		return
	}

	// Write
	li.write(ll, "libav: "+fmt, "libav: "+msg)
}

func (li *LogInterceptor) write(ll astikit.LoggerLevel, fmt, msg string) {
	// Merge
	if li.o.Merge.Buffer > 0 {
		if write := li.addItem(ll, fmt); !write {
			return
		}
	}

	// Write
	li.p.Logger().WriteC(li.ctx, ll, msg)
}

func (li *LogInterceptor) addItem(ll astikit.LoggerLevel, fmt string) (write bool) {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Create key
	key := ll.String() + ":" + fmt

	// Check whether item exists
	i, ok := li.items[key]
	if ok {
		i.count++
		if write = li.o.Merge.AllowedCount > 0 && i.count <= li.o.Merge.AllowedCount; write {
			i.written++
		}
		return
	}

	// Create item
	li.items[key] = &logInterceptorItem{
		count:     1,
		createdAt: astikit.Now(),
		fmt:       fmt,
		key:       key,
		ll:        ll,
		written:   1,
	}
	return true
}

func (li *LogInterceptor) tick(t time.Time) {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Loop through items
	for _, i := range li.items {
		// Period has been reached
		if t.Sub(i.createdAt) >= li.o.Merge.Buffer {
			li.removeItemUnlocked(i)
		}
	}
}

func (li *LogInterceptor) removeItemUnlocked(i *logInterceptorItem) {
	switch repeated := i.count - i.written; {
	case repeated > 1:
		li.p.Logger().WriteC(li.ctx, i.ll, fmt.Sprintf("astiavmedia: pattern repeated %d times: %s", repeated, i.fmt))
	case repeated == 1:
		li.p.Logger().WriteC(li.ctx, i.ll, "astiavmedia: pattern repeated once: "+i.fmt)
	}
	delete(li.items, i.key)
}

func (li *LogInterceptor) purge() {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Loop through items
	for _, i := range li.items {
		li.removeItemUnlocked(i)
	}
}
