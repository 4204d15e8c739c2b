// Package mocks provides test doubles for the pdl client.
package mocks

import (
	"context"

	pdl "github.com/sells-group/entity-enrich/pkg/pdl"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Enrich provides a mock function with given fields: ctx, name
func (_m *MockClient) Enrich(ctx context.Context, name string) (*pdl.Company, error) {
	return _m.company(ctx, "Enrich", name)
}

// SearchByName provides a mock function with given fields: ctx, name
func (_m *MockClient) SearchByName(ctx context.Context, name string) (*pdl.Company, error) {
	return _m.company(ctx, "SearchByName", name)
}

func (_m *MockClient) company(ctx context.Context, method, name string) (*pdl.Company, error) {
	ret := _m.MethodCalled(method, ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for " + method)
	}

	var r0 *pdl.Company
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*pdl.Company, error)); ok {
		return rf(ctx, name)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*pdl.Company)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
