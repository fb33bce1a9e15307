package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"borderhist/internal/history/models"
	dErrors "borderhist/pkg/domain-errors"
	pstrings "borderhist/pkg/platform/strings"
)

// Change lists and registry files carry calendar dates, not timestamps.
const dateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

// changeHead is the part of an envelope needed to pick the variant.
type changeHead struct {
	ChangeType  string `json:"change_type" validate:"required,oneof=UnitReform OneToMany ManyToOne ChangeAdmState"`
	UnitType    string `json:"unit_type" validate:"required,oneof=Region District"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Order       *int   `json:"order"`
}

func (h changeHead) meta() (models.ChangeMeta, error) {
	date, err := time.Parse(dateLayout, h.Date)
	if err != nil {
		return models.ChangeMeta{}, dErrors.Newf(dErrors.CodeValidation, "invalid change date %q", h.Date)
	}
	return models.ChangeMeta{
		ID:          uuid.New(),
		Type:        models.ChangeType(h.ChangeType),
		UnitKind:    models.UnitKind(h.UnitType),
		Date:        date,
		Source:      h.Source,
		Description: h.Description,
		Order:       h.Order,
	}, nil
}

type reformEnvelope struct {
	changeHead
	CurrentName      string             `json:"current_name" validate:"required"`
	ToReform         models.ReformAttrs `json:"to_reform"`
	AfterReform      models.ReformAttrs `json:"after_reform"`
	CreateIfAbsent   bool               `json:"create_if_absent"`
	TargetRegion     string             `json:"target_region"`
	AlternativeNames []string           `json:"alternative_names"`
}

type splitEnvelope struct {
	changeHead
	TakeFrom models.TransferSource `json:"take_from" validate:"required"`
	TakeTo   []models.TransferDest `json:"take_to" validate:"required,min=1"`
}

type mergeEnvelope struct {
	changeHead
	TakeFrom []models.TransferSource `json:"take_from" validate:"required,min=1"`
	TakeTo   models.TransferDest     `json:"take_to" validate:"required"`
}

type admStateEnvelope struct {
	changeHead
	TakeFrom models.Address `json:"take_from" validate:"required"`
	TakeTo   models.Address `json:"take_to" validate:"required"`
}

// DecodeChanges reads a JSON array of change envelopes and returns fully
// validated change values ordered as they appear in the input. Callers group
// and sort by date before application.
func DecodeChanges(r io.Reader) ([]models.Change, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "change list is not a JSON array")
	}

	changes := make([]models.Change, 0, len(raw))
	for i, entry := range raw {
		c, err := decodeChange(entry)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeOf(err), fmt.Sprintf("change %d", i))
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func decodeChange(raw json.RawMessage) (models.Change, error) {
	var head changeHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid change envelope")
	}
	if err := validate.Struct(head); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid change header")
	}

	var change models.Change
	switch models.ChangeType(head.ChangeType) {
	case models.ChangeTypeUnitReform:
		var env reformEnvelope
		if err := unmarshalEnvelope(raw, &env); err != nil {
			return nil, err
		}
		meta, err := env.meta()
		if err != nil {
			return nil, err
		}
		change = &models.UnitReform{
			ChangeMeta:       meta,
			CurrentName:      env.CurrentName,
			ToReform:         env.ToReform,
			AfterReform:      env.AfterReform,
			CreateIfAbsent:   env.CreateIfAbsent,
			TargetRegion:     env.TargetRegion,
			AlternativeNames: pstrings.DedupeAndTrim(env.AlternativeNames),
		}
	case models.ChangeTypeOneToMany:
		var env splitEnvelope
		if err := unmarshalEnvelope(raw, &env); err != nil {
			return nil, err
		}
		meta, err := env.meta()
		if err != nil {
			return nil, err
		}
		change = &models.OneToMany{ChangeMeta: meta, TakeFrom: env.TakeFrom, TakeTo: env.TakeTo}
	case models.ChangeTypeManyToOne:
		var env mergeEnvelope
		if err := unmarshalEnvelope(raw, &env); err != nil {
			return nil, err
		}
		meta, err := env.meta()
		if err != nil {
			return nil, err
		}
		change = &models.ManyToOne{ChangeMeta: meta, TakeFrom: env.TakeFrom, TakeTo: env.TakeTo}
	case models.ChangeTypeChangeAdmState:
		var env admStateEnvelope
		if err := unmarshalEnvelope(raw, &env); err != nil {
			return nil, err
		}
		meta, err := env.meta()
		if err != nil {
			return nil, err
		}
		change = &models.ChangeAdmState{ChangeMeta: meta, TakeFrom: env.TakeFrom, TakeTo: env.TakeTo}
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown change type %q", head.ChangeType)
	}

	if err := change.Validate(); err != nil {
		return nil, err
	}
	return change, nil
}

func unmarshalEnvelope(raw json.RawMessage, env any) error {
	if err := json.Unmarshal(raw, env); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid change envelope")
	}
	if err := validate.Struct(env); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid change payload")
	}
	return nil
}
