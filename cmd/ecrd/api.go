package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/timeseries"
)

// inspector serves read-only views of the entity graph and of entity metrics
// on the admin endpoint.
type inspector struct {
	store *ecr.EntityStore
	// metrics is nil when no timeseries backend is configured.
	metrics timeseries.Querier
}

func (i inspector) register(e *echo.Echo) {
	e.GET("/types/components", i.componentTypes)
	e.GET("/types/relationships", i.relationshipTypes)
	e.GET("/entities", i.listEntities)
	e.GET("/entities/:id", i.getEntity)
	e.GET("/entities/:id/relationships", i.getRelationships)
	e.GET("/entities/:id/path/:to", i.shortestPath)
	e.GET("/entities/:id/metrics", i.latestMetrics)
	e.GET("/entities/:id/metrics/history", i.metricsHistory)
}

type entityView struct {
	ID         string                    `json:"id"`
	Components map[string]map[string]any `json:"components"`
	CreatedAt  time.Time                 `json:"createdAt"`
	UpdatedAt  time.Time                 `json:"updatedAt"`
}

func viewEntity(e ecr.Entity) entityView {
	v := entityView{
		ID:         e.ID,
		Components: make(map[string]map[string]any, len(e.Components)),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	for _, c := range e.Components {
		v.Components[c.Type] = ecr.EncodeProperties(c.Properties)
	}
	return v
}

type relationshipView struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

func viewRelationships(rels []ecr.Relationship) []relationshipView {
	views := make([]relationshipView, len(rels))
	for i, r := range rels {
		views[i] = relationshipView{Type: r.Type, From: r.From, To: r.To}
		if len(r.Properties) > 0 {
			views[i].Properties = ecr.EncodeProperties(r.Properties)
		}
	}
	return views
}

func (i inspector) componentTypes(c echo.Context) error {
	types, err := i.store.Registry().Components.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, types)
}

func (i inspector) relationshipTypes(c echo.Context) error {
	types, err := i.store.Registry().Relationships.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, types)
}

func (i inspector) listEntities(c echo.Context) error {
	opts := ecr.ListOptions{ComponentType: c.QueryParam("componentType")}
	var err error
	if opts.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if opts.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}
	entities, err := i.store.ListEntities(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	views := make([]entityView, len(entities))
	for j, e := range entities {
		views[j] = viewEntity(e)
	}
	return c.JSON(http.StatusOK, views)
}

func (i inspector) getEntity(c echo.Context) error {
	e, err := i.store.GetEntity(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if e == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no entity "+strconv.Quote(c.Param("id")))
	}
	return c.JSON(http.StatusOK, viewEntity(*e))
}

func (i inspector) getRelationships(c echo.Context) error {
	rels, err := i.store.GetRelationships(c.Request().Context(), c.Param("id"), c.QueryParam("type"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewRelationships(rels))
}

// Path searches default to defaultMaxDepth hops and never exceed maxMaxDepth.
const (
	defaultMaxDepth = 6
	maxMaxDepth     = defaultMaxDepth * 4
)

func (i inspector) shortestPath(c echo.Context) error {
	maxDepth, err := intParam(c, "maxDepth")
	if err != nil {
		return err
	}
	if maxDepth == 0 {
		maxDepth = defaultMaxDepth
	}
	if maxDepth > maxMaxDepth {
		return echo.NewHTTPError(http.StatusBadRequest, "maxDepth: at most "+strconv.Itoa(maxMaxDepth))
	}
	p, err := i.store.FindShortestPath(c.Request().Context(), c.Param("id"), c.Param("to"), maxDepth)
	if err != nil {
		return httpError(err)
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "entities are not connected")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"entityIds": p.EntityIDs,
		"segments":  viewRelationships(p.Segments),
	})
}

func (i inspector) latestMetrics(c echo.Context) error {
	if i.metrics == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "metrics are disabled")
	}
	q := timeseries.LatestQuery{
		EntityID: c.Param("id"),
		Fields:   c.QueryParams()["field"],
	}
	var err error
	if q.Lookback, err = durationParam(c, "lookback"); err != nil {
		return err
	}
	points, err := timeseries.QueryLatest(c.Request().Context(), i.metrics, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, points)
}

func (i inspector) metricsHistory(c echo.Context) error {
	if i.metrics == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "metrics are disabled")
	}
	q := timeseries.HistoryQuery{
		EntityID:  c.Param("id"),
		Fields:    c.QueryParams()["field"],
		Aggregate: timeseries.Aggregate(c.QueryParam("aggregate")),
	}
	var err error
	if q.Start, err = timeParam(c, "start"); err != nil {
		return err
	}
	if q.Stop, err = timeParam(c, "stop"); err != nil {
		return err
	}
	if q.Window, err = durationParam(c, "window"); err != nil {
		return err
	}
	points, err := timeseries.QueryHistory(c.Request().Context(), i.metrics, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, points)
}

func intParam(c echo.Context, name string) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+": "+err.Error())
	}
	return n, nil
}

func durationParam(c echo.Context, name string) (time.Duration, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+": "+err.Error())
	}
	return d, nil
}

func timeParam(c echo.Context, name string) (time.Time, error) {
	s := c.QueryParam(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+": "+err.Error())
	}
	return t, nil
}

// httpError maps the error kinds of the ecr and timeseries packages onto HTTP
// status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ecr.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ecr.ErrInvalidArgument), errors.Is(err, timeseries.ErrInvalidQuery):
		code = http.StatusBadRequest
	case errors.Is(err, ecr.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error())
}
