// Package mocks provides test doubles for the gleif client.
package mocks

import (
	"context"

	gleif "github.com/sells-group/entity-enrich/pkg/gleif"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// LookupByLegalName provides a mock function with given fields: ctx, name
func (_m *MockClient) LookupByLegalName(ctx context.Context, name string) (*gleif.Record, error) {
	ret := _m.Called(ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for LookupByLegalName")
	}

	var r0 *gleif.Record
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*gleif.Record, error)); ok {
		return rf(ctx, name)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *gleif.Record); ok {
		r0 = rf(ctx, name)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*gleif.Record)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, name)
	} else {
		r1 = ret.Error(1)
	}

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
