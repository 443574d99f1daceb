package service

import (
	"time"

	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/oauthstate"
	"postdeck.app/connect/internal/service/integration"
	"postdeck.app/connect/internal/store"
)

type Services struct {
	stores     *store.Stores
	txRunner   TxRunner
	graph      graph.API
	states     oauthstate.Store
	broker     handoff.Broker
	mirror     PictureMirror
	observer   PictureObserver
	selections *integration.SelectionRegistry
	connCfg    ConnectionConfig
	igCfg      integration.InstagramConfig
}

type Deps struct {
	Stores   *store.Stores
	TxRunner TxRunner
	Graph    graph.API
	States   oauthstate.Store
	Broker   handoff.Broker
	Mirror   PictureMirror // optional
}

func NewServices(deps Deps, connCfg ConnectionConfig, igCfg integration.InstagramConfig, selectionTTL time.Duration) *Services {
	return &Services{
		stores:     deps.Stores,
		txRunner:   deps.TxRunner,
		graph:      deps.Graph,
		states:     deps.States,
		broker:     deps.Broker,
		mirror:     deps.Mirror,
		selections: integration.NewSelectionRegistry(selectionTTL),
		connCfg:    connCfg,
		igCfg:      igCfg,
	}
}

// ObservePictures registers the picture cache. It must be called before the
// services are used; the cache itself is built from Connections().
func (s *Services) ObservePictures(observer PictureObserver) {
	s.observer = observer
}

func (s *Services) Connections() ConnectionService {
	return NewConnectionService(s.stores.Connections(), s.txRunner, s.graph, s.mirror, s.observer, s.connCfg)
}

func (s *Services) Instagram() integration.InstagramService {
	return integration.NewInstagramService(s.graph, s.Connections(), s.states, s.broker, s.selections, s.igCfg)
}
