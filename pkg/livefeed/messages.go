package livefeed

import (
	"strconv"

	"github.com/bitechdev/tagstream/pkg/fanout"
	"github.com/bitechdev/tagstream/pkg/store"
)

// Message types pushed to clients
const (
	TypeConnectionStatus   = "connection_status"
	TypeSubscriptionStatus = "subscription_status"
	TypeInitialData        = "initial_data"
	TypeDataBatch          = "data_batch"
	TypeInfo               = "info"
	TypeError              = "error"
)

const (
	DashboardGraphType = "line"
	CardGraphType      = "1"
)

const (
	msgNoActiveCards   = "No active cards found"
	msgInternalError   = "Internal server error occurred"
	msgInitialDataFail = "Failed to fetch initial data"
)

// TagPayload is the per-tag object inside data pushes
type TagPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Timestamp     string `json:"timestamp"`
	Value         string `json:"value"`
	UnitOfMeasure string `json:"unit_of_measure"`
}

// DataMessage carries one live tag update for one card
type DataMessage struct {
	Type      string     `json:"type"`
	CardID    string     `json:"card_id"`
	Tag       TagPayload `json:"tag"`
	GraphType string     `json:"graph_type"`
}

// InitialDataMessage seeds a card session with stored history
type InitialDataMessage struct {
	Type      string               `json:"type"`
	CardID    string               `json:"card_id"`
	Tags      []TagPayload         `json:"tags"`
	GraphType string               `json:"graph_type"`
	Payload   []store.HistoryPoint `json:"payload"`
}

type ConnectionStatusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	UserID int    `json:"user_id"`
}

type SubscriptionStatusMessage struct {
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	SubscribedTags []int64 `json:"subscribed_tags"`
}

// NoticeMessage is used for both info and error pushes
type NoticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// route says how a tag is presented on one card
type route struct {
	cardID    string
	tagName   string
	graphType string
}

// routeTable maps each tag to every card that plots it
type routeTable map[fanout.TagID][]route

func newRouteTable(cards []store.Card, graphType string) (routeTable, []int64) {
	routes := make(routeTable)
	var ids []int64
	for _, c := range cards {
		cardID := strconv.FormatInt(c.ID, 10)
		for _, t := range c.Tags {
			tag := fanout.TagID(strconv.FormatInt(t.ID, 10))
			if _, seen := routes[tag]; !seen {
				ids = append(ids, t.ID)
			}
			routes[tag] = append(routes[tag], route{cardID: cardID, tagName: t.Name, graphType: graphType})
		}
	}
	return routes, ids
}

func (rt routeTable) tags() []fanout.TagID {
	out := make([]fanout.TagID, 0, len(rt))
	for t := range rt {
		out = append(out, t)
	}
	return out
}

func dataMessage(r route, msg fanout.Message) DataMessage {
	return DataMessage{
		Type:   TypeDataBatch,
		CardID: r.cardID,
		Tag: TagPayload{
			ID:            string(msg.TagID),
			Name:          r.tagName,
			Description:   msg.Description,
			Timestamp:     msg.Timestamp,
			Value:         msg.Value,
			UnitOfMeasure: msg.Unit,
		},
		GraphType: r.graphType,
	}
}

// initialData builds the seed message. points are newest first, so the
// first point seen for a tag is its latest value.
func initialData(card *store.Card, points []store.HistoryPoint) InitialDataMessage {
	latest := make(map[int64]store.HistoryPoint, len(card.Tags))
	for _, p := range points {
		if _, ok := latest[p.TagID]; !ok {
			latest[p.TagID] = p
		}
	}

	tags := make([]TagPayload, 0, len(card.Tags))
	for _, t := range card.Tags {
		tp := TagPayload{ID: strconv.FormatInt(t.ID, 10), Name: t.Name}
		if p, ok := latest[t.ID]; ok {
			tp.Value = p.Value
			tp.Timestamp = p.Timestamp.Format("2006-01-02T15:04:05.999999Z07:00")
		}
		tags = append(tags, tp)
	}

	if points == nil {
		points = []store.HistoryPoint{}
	}
	return InitialDataMessage{
		Type:      TypeInitialData,
		CardID:    strconv.FormatInt(card.ID, 10),
		Tags:      tags,
		GraphType: CardGraphType,
		Payload:   points,
	}
}
