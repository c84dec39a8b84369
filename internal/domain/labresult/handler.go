package labresult

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labtrend/labtrend/internal/platform/auth"
	"github.com/labtrend/labtrend/internal/platform/labcsv"
	"github.com/labtrend/labtrend/pkg/pagination"
)

type Handler struct {
	svc *Service
	// authz adds role checks; set when the API sits behind JWTMiddleware.
	authz bool
}

func NewHandler(svc *Service, authz bool) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read, write := api, api
	if h.authz {
		read = api.Group("", auth.RequireRole(auth.RoleViewer))
		write = api.Group("", auth.RequireRole(auth.RoleImporter))
	}
	read.GET("/data", h.GetData)
	read.GET("/indicators", h.ListIndicators)
	write.POST("/import", h.Import)
}

// GetData returns the full payload with derived flags.
func (h *Handler) GetData(c echo.Context) error {
	p, err := h.svc.Payload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, buf.Bytes())
}

func (h *Handler) ListIndicators(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListIndicators(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Indicator{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, total)
	return c.JSON(http.StatusOK, resp)
}

// Import reads a CSV export from the request body.
func (h *Handler) Import(c echo.Context) error {
	f, err := labcsv.Read(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.Name = c.QueryParam("name")
	if f.Name == "" {
		f.Name = "upload"
	}
	records, cols := f.Records(h.svc.Engine().Vocabulary().Headers())
	if !cols.Complete() {
		return echo.NewHTTPError(http.StatusBadRequest, "no indicator name or date column")
	}
	report, err := h.svc.ImportRecords(c.Request().Context(), records)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	report.Files = 1
	return c.JSON(http.StatusOK, report)
}
