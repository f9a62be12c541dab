// Package catalog implements HTTP clients for the external catalog
// and numbering services. The engine only consumes these systems;
// their data model is owned elsewhere, so the clients decode a narrow
// wire shape into the engine's own types and nothing more.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// Client carries the shared base URL and HTTP client for all catalog
// endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the catalog service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", errs.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFoundMarker
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: catalog: unexpected status %d for %s", errs.ErrServiceUnavailable, resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

// errNotFoundMarker lets callers attach the right entity name to a
// 404 without the transport layer guessing it.
var errNotFoundMarker = fmt.Errorf("catalog: not found")

// EventClient resolves events.
type EventClient struct{ *Client }

// NewEventClient wraps the shared client for event lookups.
func NewEventClient(c *Client) *EventClient { return &EventClient{c} }

type eventDTO struct {
	ID             string     `json:"id"`
	Type           string     `json:"typeOf"`
	Name           string     `json:"name"`
	Status         string     `json:"eventStatus"`
	StartDate      time.Time  `json:"startDate"`
	EndDate        time.Time  `json:"endDate"`
	OfferCatalogID string     `json:"offerCatalogId"`
	Location       struct {
		BranchCode              string `json:"branchCode"`
		Name                    string `json:"name"`
		MaximumAttendeeCapacity *int   `json:"maximumAttendeeCapacity"`
	} `json:"location"`
}

// FindByID fetches one event.
func (c *EventClient) FindByID(ctx context.Context, id string) (*model.Event, error) {
	var dto eventDTO
	if err := c.getJSON(ctx, "/events/"+id, &dto); err != nil {
		if err == errNotFoundMarker {
			return nil, errs.NewNotFound("event", id)
		}
		return nil, err
	}
	return &model.Event{
		ID:             dto.ID,
		Type:           model.EventType(dto.Type),
		Name:           dto.Name,
		Status:         model.EventStatus(dto.Status),
		StartDate:      dto.StartDate.UTC(),
		EndDate:        dto.EndDate.UTC(),
		OfferCatalogID: dto.OfferCatalogID,
		Location: model.Location{
			BranchCode:              dto.Location.BranchCode,
			Name:                    dto.Location.Name,
			MaximumAttendeeCapacity: dto.Location.MaximumAttendeeCapacity,
		},
	}, nil
}

// OfferClient resolves ticket offers and ticket types.
type OfferClient struct{ *Client }

// NewOfferClient wraps the shared client for offer lookups.
func NewOfferClient(c *Client) *OfferClient { return &OfferClient{c} }

type ticketTypeDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ChargeCents    int64  `json:"chargeCents"`
	MembershipOnly bool   `json:"membershipOnly"`
	RateLimit      *struct {
		Scope         string `json:"scope"`
		UnitInSeconds int64  `json:"unitInSeconds"`
	} `json:"rateLimit"`
}

// FindTicketTypesByCatalogID lists the ticket types of an offer
// catalog.
func (c *OfferClient) FindTicketTypesByCatalogID(ctx context.Context, catalogID string) ([]model.TicketType, error) {
	var dtos []ticketTypeDTO
	if err := c.getJSON(ctx, "/offerCatalogs/"+catalogID+"/ticketTypes", &dtos); err != nil {
		if err == errNotFoundMarker {
			return nil, errs.NewNotFound("offer catalog", catalogID)
		}
		return nil, err
	}
	types := make([]model.TicketType, 0, len(dtos))
	for _, dto := range dtos {
		t := model.TicketType{
			ID:             dto.ID,
			Name:           dto.Name,
			ChargeCents:    dto.ChargeCents,
			MembershipOnly: dto.MembershipOnly,
		}
		if dto.RateLimit != nil {
			t.RateLimit = &model.RateLimitSpec{
				Scope:         dto.RateLimit.Scope,
				UnitInSeconds: dto.RateLimit.UnitInSeconds,
			}
		}
		types = append(types, t)
	}
	return types, nil
}

type ticketOfferDTO struct {
	ID           string     `json:"id"`
	TicketTypeID string     `json:"ticketTypeId"`
	ValidFrom    *time.Time `json:"validFrom"`
	ValidThrough *time.Time `json:"validThrough"`
}

// SearchTicketOffers lists the offers purchasable for an event.
func (c *OfferClient) SearchTicketOffers(ctx context.Context, eventID string) ([]model.TicketOffer, error) {
	var dtos []ticketOfferDTO
	if err := c.getJSON(ctx, "/events/"+eventID+"/ticketOffers", &dtos); err != nil {
		if err == errNotFoundMarker {
			return nil, errs.NewNotFound("event", eventID)
		}
		return nil, err
	}
	offers := make([]model.TicketOffer, 0, len(dtos))
	for _, dto := range dtos {
		offers = append(offers, model.TicketOffer{
			ID:           dto.ID,
			TicketTypeID: dto.TicketTypeID,
			ValidFrom:    dto.ValidFrom,
			ValidThrough: dto.ValidThrough,
		})
	}
	return offers, nil
}

// MembershipClient resolves programme memberships.
type MembershipClient struct{ *Client }

// NewMembershipClient wraps the shared client for membership lookups.
func NewMembershipClient(c *Client) *MembershipClient { return &MembershipClient{c} }

type membershipDTO struct {
	ID             string    `json:"id"`
	HolderName     string    `json:"holderName"`
	ValidFrom      time.Time `json:"validFrom"`
	ValidThrough   time.Time `json:"validThrough"`
	AccessCodeHash string    `json:"accessCodeHash"`
}

// FindByID fetches one membership.
func (c *MembershipClient) FindByID(ctx context.Context, id string) (*model.ProgramMembership, error) {
	var dto membershipDTO
	if err := c.getJSON(ctx, "/memberships/"+id, &dto); err != nil {
		if err == errNotFoundMarker {
			return nil, errs.NewNotFound("membership", id)
		}
		return nil, err
	}
	return &model.ProgramMembership{
		ID:             dto.ID,
		HolderName:     dto.HolderName,
		ValidFrom:      dto.ValidFrom.UTC(),
		ValidThrough:   dto.ValidThrough.UTC(),
		AccessCodeHash: dto.AccessCodeHash,
	}, nil
}

// NumberingClient obtains transaction numbers from the external
// numbering service. The issuance algorithm is the service's own
// business; one POST yields one unique number.
type NumberingClient struct {
	url        string
	httpClient *http.Client
}

// NewNumberingClient returns a client for the numbering endpoint.
func NewNumberingClient(url string) *NumberingClient {
	return &NumberingClient{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Publish requests one fresh number.
func (c *NumberingClient) Publish(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("numbering service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("numbering service: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode numbering response: %w", err)
	}
	if out.Number == "" {
		return "", fmt.Errorf("numbering service: empty number")
	}
	return out.Number, nil
}
