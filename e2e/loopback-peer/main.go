// Command loopback-peer is a smoke test for a running relay: it connects two
// WebRTC peers in one process, negotiates a data channel through the relay's
// signaling, and exchanges one round trip over the direct peer connection.
//
// Run a relay locally, then:
//
//	go run ./e2e/loopback-peer -relay-url ws://127.0.0.1:8080/ws
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/vireochat/signal-relay/client"
)

func main() {
	relayURL := flag.String("relay-url", "ws://127.0.0.1:8080/ws", "relay signaling endpoint")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for the loopback round trip")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*relayURL, *timeout, logger); err != nil {
		logger.Error("loopback failed", "err", err)
		os.Exit(1)
	}
	logger.Info("loopback round trip succeeded")
}

func run(relayURL string, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	api, err := newPeerAPI()
	if err != nil {
		return err
	}

	answerer, err := newLoopbackPeer(ctx, api, relayURL, "answerer", logger)
	if err != nil {
		return err
	}
	defer answerer.close()
	if err := answerer.sig.Join("answerer"); err != nil {
		return err
	}

	answerer.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			logger.Info("answerer received", "data", string(msg.Data))
			if err := dc.SendText("pong"); err != nil {
				logger.Error("answerer send failed", "err", err)
			}
		})
	})

	offerer, err := newLoopbackPeer(ctx, api, relayURL, "offerer", logger)
	if err != nil {
		return err
	}
	defer offerer.close()
	if err := offerer.sig.Join("offerer"); err != nil {
		return err
	}

	done := make(chan struct{})
	dc, err := offerer.pc.CreateDataChannel("loopback", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		logger.Info("data channel open")
		if err := dc.SendText("ping"); err != nil {
			logger.Error("offerer send failed", "err", err)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		logger.Info("offerer received", "data", string(msg.Data))
		close(done)
	})

	offerer.setRemote(answerer.sig.ID())
	offer, err := offerer.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := offerer.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	sdp, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if err := offerer.sig.SendOffer(answerer.sig.ID(), sdp); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("round trip: %w", ctx.Err())
	}

	return offerer.sig.Hangup(answerer.sig.ID())
}

// newPeerAPI builds a webrtc API with pion's own loggers turned down to
// warnings so relay signaling stays readable.
func newPeerAPI() (*webrtc.API, error) {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn

	se := webrtc.SettingEngine{LoggerFactory: lf}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

// loopbackPeer pairs one PeerConnection with one relay client and forwards
// signaling between them: trickled local candidates go out through the relay,
// inbound offers/answers/candidates are applied to the PeerConnection.
type loopbackPeer struct {
	name string
	log  *slog.Logger
	pc   *webrtc.PeerConnection
	sig  *client.Client

	mu       sync.Mutex
	remoteID string
}

func newLoopbackPeer(ctx context.Context, api *webrtc.API, relayURL, name string, logger *slog.Logger) (*loopbackPeer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("%s: new peer connection: %w", name, err)
	}

	p := &loopbackPeer{name: name, log: logger.With("peer", name), pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		remote := p.remote()
		if remote == "" {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := p.sig.SendCandidate(remote, data); err != nil {
			p.log.Warn("send candidate failed", "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Info("connection state changed", "state", state.String())
	})

	sig, err := client.Dial(ctx, relayURL, client.Options{
		Logger: logger,
		Handlers: client.Handlers{
			OnOffer:     p.handleOffer,
			OnAnswer:    p.handleAnswer,
			OnCandidate: p.handleCandidate,
			OnHangup: func(from string) {
				p.log.Info("peer hung up", "from", from)
			},
			OnPeerLeft: func(id string) {
				p.log.Info("peer left", "id", id)
			},
		},
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	p.sig = sig
	return p, nil
}

func (p *loopbackPeer) setRemote(id string) {
	p.mu.Lock()
	p.remoteID = id
	p.mu.Unlock()
}

func (p *loopbackPeer) remote() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteID
}

func (p *loopbackPeer) handleOffer(from, fromName string, sdp json.RawMessage) {
	p.setRemote(from)
	p.log.Info("offer received", "from", from, "from_name", fromName)

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		p.log.Error("decode offer failed", "err", err)
		return
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		p.log.Error("set remote description failed", "err", err)
		return
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.log.Error("create answer failed", "err", err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.log.Error("set local description failed", "err", err)
		return
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return
	}
	if err := p.sig.SendAnswer(from, data); err != nil {
		p.log.Error("send answer failed", "err", err)
	}
}

func (p *loopbackPeer) handleAnswer(from string, sdp json.RawMessage) {
	p.log.Info("answer received", "from", from)
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		p.log.Error("decode answer failed", "err", err)
		return
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		p.log.Error("set remote description failed", "err", err)
	}
}

func (p *loopbackPeer) handleCandidate(from string, candidate json.RawMessage) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		p.log.Error("decode candidate failed", "err", err)
		return
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		p.log.Warn("add candidate failed", "err", err)
	}
}

func (p *loopbackPeer) close() {
	p.pc.Close()
	if p.sig != nil {
		p.sig.Close()
	}
}
