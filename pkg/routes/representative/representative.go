package representative

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sources"
)

// Store reads representatives; *gateway.Gateway implements it
type Store interface {
	QueryByState(ctx context.Context, q gateway.Query) ([]*models.CanonicalEntity, error)
	QueryByIdentifier(ctx context.Context, canonicalID string) (*models.CanonicalEntity, error)
	CrosswalkFor(ctx context.Context, canonicalID string) ([]models.CrosswalkEntry, error)
}

// DivisionLookup resolves addresses to districts; *sources.CivicAdapter implements it
type DivisionLookup interface {
	LookupDivisions(ctx context.Context, address string) (*sources.AddressLookup, error)
}

// Neighborhoods reads the representative graph; *graph.QueryService implements it
type Neighborhoods interface {
	Neighborhood(ctx context.Context, canonicalID string) (*graph.QueryResult, error)
}

// Handler handles representative API endpoints
type Handler struct {
	store   Store
	lookup  DivisionLookup
	network Neighborhoods
	logger  ectologger.Logger
}

// NewHandler creates a new representative handler. lookup and network may be
// nil when the civic source or the graph database is not configured.
func NewHandler(store Store, lookup DivisionLookup, network Neighborhoods, logger ectologger.Logger) *Handler {
	return &Handler{
		store:   store,
		lookup:  lookup,
		network: network,
		logger:  logger,
	}
}

// Register registers the representative routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/representatives", h.List)
	g.GET("/representatives/lookup", h.Lookup)
	g.GET("/representatives/:id", h.Get)
	g.GET("/representatives/:id/crosswalk", h.Crosswalk)
	g.GET("/representatives/:id/graph", h.Graph)
}

// LookupResponse is the response of an address lookup
type LookupResponse struct {
	Address   string                    `json:"address"`
	State     string                    `json:"state"`
	Divisions []sources.Division        `json:"divisions"`
	Items     []*models.CanonicalEntity `json:"items"`
}

// List returns the representatives of a state
func (h *Handler) List(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	if q.State == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "state is required")
	}

	items, err := h.store.QueryByState(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.RepresentativeListResponse{Items: items, TotalCount: len(items)})
}

// Lookup returns the current representatives for a street address: both
// senators and every district the address falls in
func (h *Handler) Lookup(c echo.Context) error {
	ctx := c.Request().Context()

	address := strings.TrimSpace(c.QueryParam("address"))
	if address == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "address is required")
	}
	if h.lookup == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "address lookup is not configured")
	}

	lookup, err := h.lookup.LookupDivisions(ctx, address)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Address lookup failed")
		return httperror.NewHTTPError(http.StatusBadGateway, "address lookup failed")
	}
	if lookup.State == "" {
		return httperror.NewHTTPError(http.StatusNotFound, "address did not resolve to a state")
	}

	queries := []gateway.Query{{State: lookup.State, Level: models.LevelFederal, Chamber: models.ChamberUpper}}
	for _, d := range lookup.Divisions {
		if d.Level == "" || d.District == "" {
			continue
		}
		queries = append(queries, gateway.Query{State: lookup.State, Level: d.Level, Chamber: d.Chamber, District: d.District})
	}

	items := make([]*models.CanonicalEntity, 0)
	seen := make(map[string]bool)
	for _, q := range queries {
		found, err := h.store.QueryByState(ctx, q)
		if err != nil {
			return err
		}
		for _, e := range found {
			if seen[e.CanonicalID] {
				continue
			}
			seen[e.CanonicalID] = true
			items = append(items, e)
		}
	}

	divisions := lookup.Divisions
	if divisions == nil {
		divisions = []sources.Division{}
	}
	return c.JSON(http.StatusOK, LookupResponse{
		Address:   lookup.NormalizedAddress,
		State:     lookup.State,
		Divisions: divisions,
		Items:     items,
	})
}

// Get returns one representative
func (h *Handler) Get(c echo.Context) error {
	entity, err := h.store.QueryByIdentifier(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// Crosswalk returns the source identifiers mapped to a representative
func (h *Handler) Crosswalk(c echo.Context) error {
	entries, err := h.store.CrosswalkFor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// Graph returns a representative's district, party, and district peers
func (h *Handler) Graph(c echo.Context) error {
	if h.network == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph query service unavailable")
	}

	result, err := h.network.Neighborhood(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if result == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "representative not found in graph")
	}
	return c.JSON(http.StatusOK, result)
}

func parseQuery(c echo.Context) (gateway.Query, error) {
	q := gateway.Query{
		State:    c.QueryParam("state"),
		District: c.QueryParam("district"),
	}

	if level := models.Level(strings.ToLower(c.QueryParam("level"))); level != "" {
		if !level.IsValid() {
			return q, httperror.NewHTTPError(http.StatusBadRequest, "level must be one of federal, state, local")
		}
		q.Level = level
	}

	switch chamber := models.Chamber(strings.ToLower(c.QueryParam("chamber"))); chamber {
	case "":
	case models.ChamberUpper, models.ChamberLower:
		q.Chamber = chamber
	default:
		return q, httperror.NewHTTPError(http.StatusBadRequest, "chamber must be upper or lower")
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, httperror.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = limit
	}

	if raw := c.QueryParam("include_all"); raw != "" {
		includeAll, err := strconv.ParseBool(raw)
		if err != nil {
			return q, httperror.NewHTTPError(http.StatusBadRequest, "include_all must be a boolean")
		}
		q.IncludeAll = includeAll
	}

	return q, nil
}
