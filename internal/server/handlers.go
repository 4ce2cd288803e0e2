package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UnlabeledResponse is the response body for GET /api/clusters/unlabeled.
type UnlabeledResponse struct {
	Clusters []int64 `json:"clusters"`
}

// ClusterResponse is the response body for GET /api/clusters/:id.
// UserIDs and Embeddings are parallel by index.
type ClusterResponse struct {
	ClusterID  int64       `json:"cluster_id"`
	UserIDs    []string    `json:"user_ids"`
	Embeddings [][]float32 `json:"embeddings"`
}

// UserResponse is the response body for GET /api/users/:id.
type UserResponse struct {
	User        *store.UserRecord   `json:"user"`
	Memberships []*store.UserRecord `json:"memberships,omitempty"`
}

// LabelsRequest is the request body for POST /api/labels.
type LabelsRequest struct {
	Annotations []label.Annotation `json:"annotations"`
}

// LabelsErrorResponse reports a propagation that stopped partway.
type LabelsErrorResponse struct {
	Message string        `json:"message"`
	Result  *label.Result `json:"result"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleUnlabeled(c echo.Context) error {
	ids, err := s.store.UnlabeledClusters(c.Request().Context())
	if err != nil {
		return s.internalError("listing unlabeled clusters", err)
	}
	return c.JSON(http.StatusOK, UnlabeledResponse{Clusters: ids})
}

func (s *Server) handleCluster(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cluster id")
	}

	ctx := c.Request().Context()
	ids, err := s.store.ClusterUserIDs(ctx, id)
	if err != nil {
		return s.internalError("loading cluster user ids", err)
	}
	embs, err := s.store.ClusterEmbeddings(ctx, id)
	if err != nil {
		return s.internalError("loading cluster embeddings", err)
	}
	if len(ids) != len(embs) {
		// A load committed between the two reads.
		return echo.NewHTTPError(http.StatusConflict, "cluster changed while reading, retry")
	}

	return c.JSON(http.StatusOK, ClusterResponse{ClusterID: id, UserIDs: ids, Embeddings: embs})
}

func (s *Server) handleUser(c echo.Context) error {
	userID := c.Param("id")
	ctx := c.Request().Context()

	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return s.internalError("loading user", err)
	}

	resp := UserResponse{User: u}
	if c.QueryParam("all") == "1" {
		if resp.Memberships, err = s.store.UserMemberships(ctx, userID); err != nil {
			return s.internalError("loading user memberships", err)
		}
	}
	if c.QueryParam("embedding") != "1" {
		u.Embedding = nil
		for _, m := range resp.Memberships {
			m.Embedding = nil
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLabels(c echo.Context) error {
	var req LabelsRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid labels request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Annotations) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "annotations field is required")
	}
	if err := label.Validate(req.Annotations); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.labeler.LabelUsers(c.Request().Context(), req.Annotations)
	if err != nil {
		s.logger.Error("label propagation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, LabelsErrorResponse{
			Message: err.Error(),
			Result:  res,
		})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return s.internalError("loading stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) internalError(msg string, err error) error {
	s.logger.Error(msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg).SetInternal(err)
}
