package entry

import (
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/internal/session/cloud"
	"github.com/nerrad567/sensecraft-core/internal/session/gimbal"
	"github.com/nerrad567/sensecraft-core/internal/session/jetson"
	"github.com/nerrad567/sensecraft-core/internal/session/vision"
	"github.com/nerrad567/sensecraft-core/internal/session/watcher"
)

// Builder rebuilds a session from an entry's data.
type Builder func(data []byte, deps session.Deps) (session.Session, error)

func builder[S session.Session](fn func([]byte, session.Deps) (S, error)) Builder {
	return func(data []byte, deps session.Deps) (session.Session, error) {
		s, err := fn(data, deps)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// DefaultBuilders maps every supported kind to its session constructor.
func DefaultBuilders() map[session.Kind]Builder {
	return map[session.Kind]Builder{
		session.KindCloud:       builder(cloud.FromConfig),
		session.KindJetson:      builder(jetson.FromConfig),
		session.KindVision:      builder(vision.FromConfig),
		session.KindWatcherMQTT: builder(watcher.MQTTFromConfig),
		session.KindWatcherHTTP: builder(watcher.HTTPFromConfig),
		session.KindGimbal:      builder(gimbal.FromConfig),
	}
}
