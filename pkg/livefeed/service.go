package livefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bitechdev/tagstream/pkg/fanout"
	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
	"github.com/bitechdev/tagstream/pkg/security"
	"github.com/bitechdev/tagstream/pkg/session"
	"github.com/bitechdev/tagstream/pkg/store"
	"github.com/bitechdev/tagstream/pkg/tracing"
)

const DefaultPollTimeout = time.Second

// Subscriptions is the part of the fanout registry a session uses
type Subscriptions interface {
	Subscribe(tags []fanout.TagID, capacity int) fanout.SubscriberID
	Unsubscribe(id fanout.SubscriberID) bool
	GetMessages(ctx context.Context, id fanout.SubscriberID, timeout time.Duration) []fanout.Message
}

// Sessions is the part of the session manager a session uses
type Sessions interface {
	Connect(key string, t session.Transport)
	DisconnectTransport(key string, t session.Transport) bool
	Send(key string, v interface{}) bool
}

// CardStore resolves cards and access rights
type CardStore interface {
	ActiveCardsForUser(ctx context.Context, userID int) ([]store.Card, error)
	CardWithTags(ctx context.Context, cardID int64) (*store.Card, error)
	CanAccessCard(ctx context.Context, user *security.UserContext, cardID int64) (bool, error)
}

// Options tunes session behaviour
type Options struct {
	// PollTimeout bounds each wait for queued messages, and so how long a
	// dead transport can go unnoticed
	PollTimeout time.Duration
	// QueueCapacity per subscriber; <= 0 uses the registry default
	QueueCapacity int
}

// Service runs dashboard and card sessions over already upgraded transports
type Service struct {
	auth     security.Authenticator
	subs     Subscriptions
	sessions Sessions
	cards    CardStore
	history  store.HistorySource
	opts     Options
}

// NewService wires the session collaborators
func NewService(auth security.Authenticator, subs Subscriptions, sessions Sessions, cards CardStore, history store.HistorySource, opts Options) *Service {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	return &Service{
		auth:     auth,
		subs:     subs,
		sessions: sessions,
		cards:    cards,
		history:  history,
		opts:     opts,
	}
}

// feed is one live session: its key, transport, subscription and routes
type feed struct {
	svc       *Service
	key       string
	transport session.Transport
	subID     fanout.SubscriberID
	routes    routeTable
}

func dashboardKey(userID int) string { return "dashboard:" + strconv.Itoa(userID) }

func cardKey(userID int, cardID int64) string {
	return fmt.Sprintf("card:%d:%d", cardID, userID)
}

// Dashboard streams updates for every tag on the user's active cards. It
// returns when the client goes away, a send fails or ctx is cancelled.
func (s *Service) Dashboard(ctx context.Context, r *http.Request, t session.Transport) (err error) {
	defer logger.CatchPanicCallback("livefeed.Dashboard", func(any) {
		metrics.GetProvider().RecordPanic("livefeed")
		closeWith(t, session.CloseInternalError, "Internal error")
		err = errors.New("dashboard session panicked")
	})

	user, err := s.authenticate(r, t)
	if err != nil {
		return err
	}
	logger.Info("[LiveFeed] Dashboard connection initiated for user %d", user.UserID)

	f := &feed{svc: s, key: dashboardKey(user.UserID), transport: t}
	s.sessions.Connect(f.key, t)
	defer f.cleanup()

	if !f.send(ConnectionStatusMessage{Type: TypeConnectionStatus, Status: "connected", UserID: user.UserID}) {
		return errSendFailed
	}

	cards, err := s.activeCards(ctx, user.UserID)
	if err != nil {
		logger.Error("[LiveFeed] Loading cards for user %d: %v", user.UserID, err)
		f.send(NoticeMessage{Type: TypeError, Message: msgInternalError})
		closeWith(t, session.CloseInternalError, "Internal error")
		return err
	}

	routes, tagIDs := newRouteTable(cards, DashboardGraphType)
	if len(tagIDs) == 0 {
		logger.Info("[LiveFeed] User %d has no active cards with tags", user.UserID)
		if !f.send(NoticeMessage{Type: TypeInfo, Message: msgNoActiveCards}) {
			return errSendFailed
		}
		f.idle(ctx)
		return nil
	}

	f.subscribe(routes)
	if !f.send(SubscriptionStatusMessage{Type: TypeSubscriptionStatus, Status: "subscribed", SubscribedTags: tagIDs}) {
		return errSendFailed
	}
	return f.pump(ctx)
}

func (s *Service) activeCards(ctx context.Context, userID int) ([]store.Card, error) {
	ctx, span := tracing.StartSpan(ctx, "livefeed.dashboard.cards", attribute.Int("user.id", userID))
	defer span.End()

	cards, err := s.cards.ActiveCardsForUser(ctx, userID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("cards", len(cards)))
	return cards, nil
}

// Card seeds the client with the card's stored history, then streams live
// updates for its tags.
func (s *Service) Card(ctx context.Context, r *http.Request, t session.Transport, cardID int64) (err error) {
	defer logger.CatchPanicCallback("livefeed.Card", func(any) {
		metrics.GetProvider().RecordPanic("livefeed")
		closeWith(t, session.CloseInternalError, "Internal error")
		err = errors.New("card session panicked")
	})

	user, card, err := s.openCard(ctx, r, t, cardID)
	if err != nil {
		return err
	}

	f := &feed{svc: s, key: cardKey(user.UserID, cardID), transport: t}
	s.sessions.Connect(f.key, t)
	defer f.cleanup()

	logger.Info("[LiveFeed] Card %d tags: %v, window %s to %s", cardID, card.TagIDs(), card.StartTime, card.EndTime)
	if !f.send(s.seed(ctx, card)) {
		return errSendFailed
	}

	routes, _ := newRouteTable([]store.Card{*card}, CardGraphType)
	f.subscribe(routes)
	return f.pump(ctx)
}

// openCard authenticates the connection and checks the user may view the card.
// Every failure closes t with a policy or internal error code.
func (s *Service) openCard(ctx context.Context, r *http.Request, t session.Transport, cardID int64) (*security.UserContext, *store.Card, error) {
	ctx, span := tracing.StartSpan(ctx, "livefeed.card.setup", attribute.Int64("card.id", cardID))
	defer span.End()

	user, err := s.authenticate(r, t)
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("user.id", user.UserID))

	card, err := s.cards.CardWithTags(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			logger.Warn("[LiveFeed] Card %d not found or inactive", cardID)
			closeWith(t, session.ClosePolicyViolation, "Card not found")
			return nil, nil, err
		}
		tracing.RecordError(ctx, err)
		logger.Error("[LiveFeed] Loading card %d: %v", cardID, err)
		closeWith(t, session.CloseInternalError, "Internal error")
		return nil, nil, err
	}

	allowed, err := s.cards.CanAccessCard(ctx, user, cardID)
	if err != nil {
		logger.Error("[LiveFeed] Checking access to card %d for user %d: %v", cardID, user.UserID, err)
	}
	if !allowed {
		logger.Warn("[LiveFeed] User %d not authorized to view card %d", user.UserID, cardID)
		closeWith(t, session.ClosePolicyViolation, "Forbidden")
		return nil, nil, ErrForbidden
	}
	return user, card, nil
}

// seed builds the initial_data push, or the error notice when history fails
func (s *Service) seed(ctx context.Context, card *store.Card) interface{} {
	ctx, span := tracing.StartSpan(ctx, "livefeed.card.history", attribute.Int64("card.id", card.ID))
	defer span.End()

	points, err := s.history.HistoricalTagData(ctx, card.TagIDs(), card.StartTime, card.EndTime)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Error("[LiveFeed] Fetching history for card %d: %v", card.ID, err)
		return NoticeMessage{Type: TypeError, Message: msgInitialDataFail}
	}
	return initialData(card, points)
}

func (s *Service) authenticate(r *http.Request, t session.Transport) (*security.UserContext, error) {
	if s.auth == nil {
		closeWith(t, session.ClosePolicyViolation, "Unauthorized")
		return nil, ErrUnauthorized
	}
	user, err := s.auth.Authenticate(r)
	if err != nil {
		logger.Warn("[LiveFeed] Authentication failed from %s: %v", r.RemoteAddr, err)
		closeWith(t, session.ClosePolicyViolation, "Unauthorized")
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return user, nil
}

func (f *feed) subscribe(routes routeTable) {
	f.routes = routes
	f.subID = f.svc.subs.Subscribe(routes.tags(), f.svc.opts.QueueCapacity)
	logger.Debug("[LiveFeed] %s subscribed as %s to %d tags", f.key, f.subID, len(routes))
}

func (f *feed) send(v interface{}) bool {
	return f.svc.sessions.Send(f.key, v)
}

// pump polls the subscriber queue and forwards every message until the
// transport closes, a send fails or ctx ends
func (f *feed) pump(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.transport.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return f.exitReason(ctx)
		}

		for _, msg := range f.svc.subs.GetMessages(ctx, f.subID, f.svc.opts.PollTimeout) {
			for _, r := range f.routes[msg.TagID] {
				if !f.send(dataMessage(r, msg)) {
					logger.Info("[LiveFeed] %s send failed, ending session", f.key)
					return errSendFailed
				}
			}
		}
	}
}

// idle keeps a session without tags open until the client leaves
func (f *feed) idle(ctx context.Context) {
	select {
	case <-f.transport.Done():
	case <-ctx.Done():
	}
}

func (f *feed) exitReason(ctx context.Context) error {
	select {
	case <-f.transport.Done():
		logger.Info("[LiveFeed] %s client disconnected", f.key)
		return nil
	default:
		return ctx.Err()
	}
}

// cleanup always runs: drop the subscription first so no more messages
// queue up, then release the session
func (f *feed) cleanup() {
	if f.subID != "" {
		f.svc.subs.Unsubscribe(f.subID)
	}
	f.svc.sessions.DisconnectTransport(f.key, f.transport)
	logger.Info("[LiveFeed] Cleaned up %s", f.key)
}

func closeWith(t session.Transport, code int, reason string) {
	if err := t.Close(code, reason); err != nil && !errors.Is(err, session.ErrTransportClosed) {
		logger.Debug("[LiveFeed] Closing %s: %v", t.ID(), err)
	}
}
