package service

import (
	"context"
	"strings"

	"Gateleen/internal/biz"
	"Gateleen/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Control API operations.
const (
	OperationGetCircuitInformation = "getCircuitInformation"
	OperationGetCircuitState       = "getCircuitState"
	OperationGetCircuitStatus      = "getCircuitStatus"
	OperationCloseCircuit          = "closeCircuit"
	OperationCloseAllCircuits      = "closeAllCircuits"
	OperationGetAllCircuits        = "getAllCircuits"

	StatusOK    = "ok"
	StatusError = "error"
)

// APIRequest is a control API request. The circuit hash may be given
// directly or inside payload.
type APIRequest struct {
	Operation string      `json:"operation"`
	Circuit   string      `json:"circuit,omitempty"`
	Payload   *APIPayload `json:"payload,omitempty"`
}

// APIPayload carries operation arguments.
type APIPayload struct {
	Circuit string `json:"circuit,omitempty"`
}

// CircuitHash returns the circuit the request refers to.
func (r *APIRequest) CircuitHash() string {
	if r.Circuit != "" {
		return r.Circuit
	}
	if r.Payload != nil {
		return r.Payload.Circuit
	}
	return ""
}

// APIReply is the reply of every control API operation.
type APIReply struct {
	Status  string      `json:"status"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message,omitempty"`
}

// CircuitDetails is the information stored for a circuit.
type CircuitDetails struct {
	FailRatio  *int   `json:"failRatio,omitempty"`
	Circuit    string `json:"circuit,omitempty"`
	MetricName string `json:"metricName,omitempty"`
	OpenedAt   int64  `json:"openedAt,omitempty"`
}

// CircuitView is the public representation of a circuit.
type CircuitView struct {
	Status string         `json:"status"`
	Info   CircuitDetails `json:"info"`
}

// StatusView carries a circuit state.
type StatusView struct {
	Status string `json:"status"`
}

// CircuitService exposes circuit inspection and administration.
type CircuitService struct {
	uc     *biz.QueueCircuitBreakerUsecase
	logger *log.Helper
}

// NewCircuitService creates a new CircuitService instance.
func NewCircuitService(uc *biz.QueueCircuitBreakerUsecase, logger log.Logger) *CircuitService {
	return &CircuitService{
		uc:     uc,
		logger: log.NewHelper(log.With(logger, "module", "service/circuit")),
	}
}

// Execute runs one control API operation. Failures are reported in the reply.
func (s *CircuitService) Execute(ctx context.Context, req *APIRequest) (*APIReply, error) {
	s.logger.Debugw("msg", "control api called", "operation", req.Operation, "circuit", req.CircuitHash())

	switch req.Operation {
	case OperationGetCircuitInformation, OperationGetCircuitState, OperationGetCircuitStatus, OperationCloseCircuit:
		if req.CircuitHash() == "" {
			return &APIReply{Status: StatusError, Message: "operation " + req.Operation + " requires a circuit"}, nil
		}
	case OperationCloseAllCircuits, OperationGetAllCircuits:
	default:
		return &APIReply{Status: StatusError, Message: "unsupported operation: " + req.Operation}, nil
	}

	var (
		value interface{}
		err   error
	)
	switch req.Operation {
	case OperationGetCircuitInformation:
		value, err = s.GetCircuit(ctx, req.CircuitHash())
	case OperationGetCircuitState, OperationGetCircuitStatus:
		value, err = s.GetCircuitStatus(ctx, req.CircuitHash())
	case OperationCloseCircuit:
		err = s.uc.CloseCircuit(ctx, req.CircuitHash())
	case OperationCloseAllCircuits:
		err = s.uc.CloseAllCircuits(ctx)
	case OperationGetAllCircuits:
		value, err = s.ListCircuits(ctx)
	}

	if err != nil {
		s.logger.Errorw("msg", "control api operation failed", "operation", req.Operation, "error", err)
		return &APIReply{Status: StatusError, Message: errors.FromError(err).Message}, nil
	}
	return &APIReply{Status: StatusOK, Value: value}, nil
}

// ListCircuits returns every known circuit keyed by circuit hash.
func (s *CircuitService) ListCircuits(ctx context.Context) (map[string]CircuitView, error) {
	circuits, err := s.uc.AllCircuits(ctx)
	if err != nil {
		return nil, errors.InternalServer("STORAGE_ERROR", err.Error())
	}
	views := make(map[string]CircuitView, len(circuits))
	for _, info := range circuits {
		views[info.Hash] = toCircuitView(info)
	}
	return views, nil
}

// GetCircuit returns a single circuit. Unknown circuits are reported closed.
func (s *CircuitService) GetCircuit(ctx context.Context, circuitHash string) (*CircuitView, error) {
	info, err := s.uc.CircuitInformation(ctx, circuitHash)
	if err != nil {
		return nil, errors.InternalServer("STORAGE_ERROR", err.Error())
	}
	if info == nil {
		return &CircuitView{Status: model.StateClosed.String()}, nil
	}
	view := toCircuitView(info)
	return &view, nil
}

// GetCircuitStatus returns the state of a circuit.
func (s *CircuitService) GetCircuitStatus(ctx context.Context, circuitHash string) (*StatusView, error) {
	state, err := s.uc.CircuitState(ctx, circuitHash)
	if err != nil {
		return nil, errors.InternalServer("STORAGE_ERROR", err.Error())
	}
	return &StatusView{Status: state.String()}, nil
}

// ChangeCircuitStatus closes one circuit, or all of them for the id "_all".
// Circuits can only be changed to closed.
func (s *CircuitService) ChangeCircuitStatus(ctx context.Context, circuitHash string, req *StatusView) error {
	if req == nil || strings.TrimSpace(req.Status) == "" {
		return errors.BadRequest("INVALID_STATUS", "Body must contain a correct 'status' value")
	}
	state, err := model.ParseCircuitState(req.Status)
	if err != nil {
		return errors.BadRequest("INVALID_STATUS", "Body must contain a correct 'status' value")
	}
	if state != model.StateClosed {
		return errors.Forbidden("STATUS_NOT_ALLOWED", "Status can be changed to 'CLOSED' only")
	}

	s.logger.Infow("msg", "closing circuit on request", "circuit", circuitHash)
	if circuitHash == AllCircuitsID {
		err = s.uc.CloseAllCircuits(ctx)
	} else {
		err = s.uc.CloseCircuit(ctx, circuitHash)
	}
	if err != nil {
		return errors.InternalServer("STORAGE_ERROR", err.Error())
	}
	return nil
}

func toCircuitView(info *model.CircuitInfo) CircuitView {
	state, err := info.State()
	if err != nil {
		state = model.StateClosed
	}
	failRatio := info.FailRatio
	return CircuitView{
		Status: state.String(),
		Info: CircuitDetails{
			FailRatio:  &failRatio,
			Circuit:    info.Circuit,
			MetricName: info.MetricName,
			OpenedAt:   info.OpenedAt,
		},
	}
}
