// Package providermock holds hand-maintained gomock doubles for the
// provider package's capability interfaces. mockgen itself isn't vendored
// into this pack, so these are written by hand in the shape mockgen would
// generate (MockX / MockXMockRecorder / NewMockX(ctrl) / ctrl.Call
// dispatch) rather than as ad hoc test stubs, so they drop in anywhere a
// generated mock would and read the same way at call sites.
package providermock

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

// MockChatter is a mock of the provider.Chatter interface.
type MockChatter struct {
	provider.Sealed

	ctrl     *gomock.Controller
	recorder *MockChatterMockRecorder
}

// MockChatterMockRecorder is the mock recorder for MockChatter.
type MockChatterMockRecorder struct {
	mock *MockChatter
}

// NewMockChatter creates a new mock instance.
func NewMockChatter(ctrl *gomock.Controller) *MockChatter {
	mock := &MockChatter{ctrl: ctrl}
	mock.recorder = &MockChatterMockRecorder{mock}

	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockChatter) EXPECT() *MockChatterMockRecorder {
	return m.recorder
}

// Infer mocks base method.
func (m *MockChatter) Infer(ctx context.Context, req *gwtypes.Request, cfg provider.Config, creds provider.Credentials) (*gwtypes.ModelInferenceResponse, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Infer", ctx, req, cfg, creds)
	ret0, _ := ret[0].(*gwtypes.ModelInferenceResponse)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

// Infer indicates an expected call of Infer.
func (mr *MockChatterMockRecorder) Infer(ctx, req, cfg, creds any) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Infer", reflect.TypeOf((*MockChatter)(nil).Infer), ctx, req, cfg, creds)
}

var _ provider.Chatter = (*MockChatter)(nil)
