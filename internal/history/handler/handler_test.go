package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"borderhist/internal/history/models"
	"borderhist/internal/history/service"
	"borderhist/internal/history/store"
	"borderhist/internal/ingest"
	jwttoken "borderhist/internal/jwt_token"
)

const testSigningKey = "test-signing-key"

const handlerInitialState = `{
  "valid_from": "1950-01-01",
  "regions": [
    {"region_name": "region_a", "homeland": true, "districts": [
      {"district_name": "district_a"},
      {"district_name": "district_b"}
    ]},
    {"region_name": "territory", "homeland": false, "districts": [
      {"district_name": "district_c"},
      {"district_name": "district_d"}
    ]}
  ]
}`

const mergeChangeList = `[
  {
    "change_type": "ManyToOne",
    "unit_type": "District",
    "date": "1955-01-01",
    "source": "Dz.U. 1955 nr 1",
    "take_from": [{"current_name": "district_c", "weight": 0.6, "delete_unit": true},
                  {"current_name": "district_d", "weight": 0.4, "delete_unit": true}],
    "take_to": {"current_name": "district_e", "create": true, "region": "territory"}
  }
]`

type HandlerSuite struct {
	suite.Suite
	router chi.Router
	jwt    *jwttoken.JWTService
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	initial, err := ingest.DecodeInitialState(strings.NewReader(handlerInitialState))
	s.Require().NoError(err)
	regs, err := ingest.BuildRegistries(initial)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	history, err := service.New(context.Background(), initial, regs, store.NewInMemory(),
		service.WithLogger(logger))
	s.Require().NoError(err)

	s.jwt = jwttoken.NewJWTService(testSigningKey, "borderhist", "borderhist-api")
	h := New(history, logger, nil, jwttoken.NewJWTServiceAdapter(s.jwt))

	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, target, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) token() string {
	token, err := s.jwt.GenerateToken("operator", time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *HandlerSuite) applyMerge() {
	rec := s.do(http.MethodPost, "/history/changes", mergeChangeList, s.token())
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *HandlerSuite) TestGetLatestState() {
	rec := s.do(http.MethodGet, "/history/state", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var state models.AdministrativeState
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.Equal(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), state.ValidFrom)
	s.Len(state.Regions, 2)
}

func (s *HandlerSuite) TestGetStateAsOf() {
	s.Run("invalid date", func() {
		rec := s.do(http.MethodGet, "/history/state?date=1950-13-01", "", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("before history", func() {
		rec := s.do(http.MethodGet, "/history/state?date=1949-01-01", "", "")
		s.Equal(http.StatusNotFound, rec.Code)
		s.Contains(rec.Body.String(), "out_of_range")
	})

	s.Run("inside first span", func() {
		rec := s.do(http.MethodGet, "/history/state?date=1952-06-01", "", "")
		s.Require().Equal(http.StatusOK, rec.Code)

		var state models.AdministrativeState
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
		s.Equal(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), state.ValidFrom)
	})
}

func (s *HandlerSuite) TestGetPairs() {
	rec := s.do(http.MethodGet, "/history/state/pairs?date=1950-01-01&homeland_only=true", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var pairs []models.RDPair
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &pairs))
	s.Equal([]models.RDPair{
		{Region: "region_a", District: "district_a"},
		{Region: "region_a", District: "district_b"},
	}, pairs)
}

func (s *HandlerSuite) TestApplyChangesRequiresAuth() {
	s.Run("missing token", func() {
		rec := s.do(http.MethodPost, "/history/changes", mergeChangeList, "")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("garbage token", func() {
		rec := s.do(http.MethodPost, "/history/changes", mergeChangeList, "not-a-jwt")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *HandlerSuite) TestApplyChanges() {
	rec := s.do(http.MethodPost, "/history/changes", mergeChangeList, s.token())
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var result ApplyResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(1, result.BatchesApplied)
	s.Equal(time.Date(1955, 1, 1, 0, 0, 0, 0, time.UTC), result.ValidFrom)

	listRec := s.do(http.MethodGet, "/history/states", "", "")
	s.Require().Equal(http.StatusOK, listRec.Code)

	var summaries []StateSummary
	s.Require().NoError(json.Unmarshal(listRec.Body.Bytes(), &summaries))
	s.Require().Len(summaries, 2)
	s.NotNil(summaries[0].ValidTo)
	s.Nil(summaries[1].ValidTo)
	s.Equal(3, summaries[1].Districts)
}

func (s *HandlerSuite) TestApplyChangesRejectsInvalidList() {
	rec := s.do(http.MethodPost, "/history/changes",
		`[{"change_type": "Teleport", "unit_type": "District", "date": "1955-01-01"}]`, s.token())
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "validation")
}

func (s *HandlerSuite) TestApplyChangesRejectsStaleDate() {
	rec := s.do(http.MethodPost, "/history/changes",
		`[{"change_type": "UnitReform", "unit_type": "District", "date": "1950-01-01",
		   "current_name": "district_a", "after_reform": {"name": "district_x"}}]`, s.token())
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "non_monotonic_change")
}

func (s *HandlerSuite) TestLookupUnit() {
	s.Run("district", func() {
		rec := s.do(http.MethodGet, "/history/units/district/district_a", "", "")
		s.Require().Equal(http.StatusOK, rec.Code)

		var unit models.Unit
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &unit))
		s.Equal("district_a", unit.NameID)
		s.Equal(models.UnitKindDistrict, unit.Kind)
	})

	s.Run("unknown kind", func() {
		rec := s.do(http.MethodGet, "/history/units/city/district_a", "", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unresolved", func() {
		rec := s.do(http.MethodGet, "/history/units/district/nowhere", "", "")
		s.Equal(http.StatusNotFound, rec.Code)
		s.Contains(rec.Body.String(), "unresolved_unit")
	})
}

func (s *HandlerSuite) TestLineage() {
	s.applyMerge()

	rec := s.do(http.MethodGet, "/history/lineage?unit=district_e", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var edges []models.LineageEdge
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &edges))
	s.Len(edges, 2)

	fromRec := s.do(http.MethodGet, "/history/lineage?unit=district_c&direction=from", "", "")
	s.Require().Equal(http.StatusOK, fromRec.Code)

	var fromEdges []models.LineageEdge
	s.Require().NoError(json.Unmarshal(fromRec.Body.Bytes(), &fromEdges))
	s.Require().Len(fromEdges, 1)
	s.InDelta(0.6, fromEdges[0].Weight, 1e-9)

	s.Run("missing unit param", func() {
		rec := s.do(http.MethodGet, "/history/lineage", "", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown direction", func() {
		rec := s.do(http.MethodGet, "/history/lineage?unit=district_e&direction=sideways", "", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestCompare() {
	body := `[{"region": "region_a", "district": "district_a"},
	          {"region": "region_a", "district": "district_b"}]`
	rec := s.do(http.MethodPost, "/history/state/compare?date=1950-01-01&homeland_only=true", body, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var result service.ComparisonResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(0, result.Distance)
}

func (s *HandlerSuite) TestIdentify() {
	s.applyMerge()

	body := `[{"region": "region_a", "district": "district_a"},
	          {"region": "region_a", "district": "district_b"},
	          {"region": "territory", "district": "district_e"}]`
	rec := s.do(http.MethodPost, "/history/state/identify", body, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var matches []service.StateMatch
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &matches))
	s.Require().Len(matches, 1)
	s.Equal(0, matches[0].Distance)
	s.Equal(time.Date(1955, 1, 1, 0, 0, 0, 0, time.UTC), matches[0].ValidFrom)
}

func (s *HandlerSuite) TestVerify() {
	s.applyMerge()

	rec := s.do(http.MethodGet, "/history/verify", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var result struct {
		Consistent bool     `json:"consistent"`
		Issues     []string `json:"issues"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.True(result.Consistent)
	s.Empty(result.Issues)
}

func TestParseUnitKind(t *testing.T) {
	kind, err := parseUnitKind("region")
	require.NoError(t, err)
	require.Equal(t, models.UnitKindRegion, kind)

	_, err = parseUnitKind("Region")
	require.Error(t, err)
}
