package aerogpu

import (
	"context"
	"strings"

	"github.com/aerovirt/aerogpu/config"
	"github.com/aerovirt/aerogpu/devsim"
	"github.com/aerovirt/aerogpu/protocol"
	"github.com/aerovirt/aerogpu/util"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

type m map[string]any

const (
	defaultGuestMemBytes = 64 * 1024 * 1024
	defaultRingBaseGPA   = 0x1000
)

func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger) (*Control, error) {
	ctx, cancel := context.WithCancel(context.Background())

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			cancel()
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		cancel()
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	mem := devsim.NewMem(c.GetInt("device.memory", defaultGuestMemBytes))
	dev := devsim.New(l, mem, c.GetUint32("device.refresh_hz", 0))

	ringFormat := protocol.RingFormatLegacy
	switch strings.ToLower(c.GetString("ring.format", "legacy")) {
	case "legacy":
	case "agpu":
		ringFormat = protocol.RingFormatAGPU
	default:
		cancel()
		return nil, util.NewContextualError("ring.format was not understood", m{"format": c.GetString("ring.format", "")}, nil)
	}

	ac := AdapterConfig{
		RingFormat:     ringFormat,
		RingEntryCount: c.GetUint32("ring.entries", 0),
		RingBaseGPA:    uint64(c.GetInt("ring.base", defaultRingBaseGPA)),
		ArenaSlotSize:  c.GetUint32("arena.slot_size", 0),
		ArenaSlotCount: c.GetUint32("arena.slots", 0),
		TokenCacheSize: c.GetInt("debug.token_cache", 0),
	}

	a, err := NewAdapter(l, dev, mem, ac)
	if err != nil {
		cancel()
		return nil, util.ContextualizeIfNeeded("Failed to initialize the adapter", err)
	}
	dev.OnInterrupt(func() { a.ServiceInterrupt() })

	if c.GetBool("scanout.enabled", true) {
		a.SetScanout(ScanoutMode{
			Width:  c.GetUint32("scanout.width", 1024),
			Height: c.GetUint32("scanout.height", 768),
			FBBase: uint64(c.GetInt("scanout.fb_base", 0x100000)),
		})
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		cancel()
		return nil, util.NewContextualError("Failed to start stats emitter", nil, err)
	}

	if configTest {
		cancel()
		return nil, nil
	}

	c.CatchHUP(ctx)

	return &Control{
		a:          a,
		dev:        dev,
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		statsStart: statsStart,
		reportEach: c.GetDuration("report.interval", 0),
		soakEach:   c.GetDuration("soak.interval", 0),
		done:       make(chan struct{}),
	}, nil
}
