package ffi

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/types"
	"tsn/src/util"
)

type Counter struct {
	Value int32
}

func resolverFor(bound map[reflect.Type]*types.Type) TypeResolver {
	return func(rt reflect.Type) *types.Type {
		return bound[rt]
	}
}

func TestObjectTypeBinderBindsCtorMethodAndProp(t *testing.T) {
	i32 := &types.Type{FQN: "i32", ID: types.HashFQN("i32"), Meta: types.Meta{Primitive: true, Integral: true}}
	counterT := &types.Type{FQN: "test::Counter", ID: types.HashFQN("test::Counter")}

	bound := map[reflect.Type]*types.Type{
		reflect.TypeOf(int32(0)):  i32,
		reflect.TypeOf(Counter{}): counterT,
		reflect.TypeOf(&Counter{}): counterT,
	}

	funcs := NewRegistry()
	registry := types.NewRegistry()
	resolve := resolverFor(bound)

	b := NewObjectTypeBinder[Counter](resolve, funcs, "test", "Counter")
	b.Ctor(func() Counter { return Counter{} })
	b.Method("increment", func(c *Counter) int32 { c.Value++; return c.Value }, types.Public)
	b.Prop("Value", types.Public)

	require.NoError(t, b.Err())

	ty, err := b.Finalize(registry)
	require.NoError(t, err)
	require.Equal(t, types.KindPlain, ty.Kind)
	require.Len(t, ty.Properties, 1)
	require.Equal(t, "Value", ty.Properties[0].Name)
	require.Len(t, ty.Methods, 1)
}

func TestBindFailsOnUnboundReturnType(t *testing.T) {
	funcs := NewRegistry()
	resolve := resolverFor(nil) // nothing bound.

	b := NewObjectTypeBinder[Counter](resolve, funcs, "test", "Counter")
	b.Ctor(func() Counter { return Counter{} })

	err := b.Err()
	require.Error(t, err)
	var be *util.BindError
	require.ErrorAs(t, err, &be)
	require.Equal(t, util.ErrFunctionReturnTypeUnbound, be.Code)
}

func TestBindFailsOnStructArgumentByValue(t *testing.T) {
	i32 := &types.Type{FQN: "i32", ID: types.HashFQN("i32")}
	counterT := &types.Type{FQN: "test::Counter", ID: types.HashFQN("test::Counter")}
	bound := map[reflect.Type]*types.Type{
		reflect.TypeOf(int32(0)):  i32,
		reflect.TypeOf(Counter{}): counterT,
		reflect.TypeOf(&Counter{}): counterT,
	}
	funcs := NewRegistry()
	resolve := resolverFor(bound)

	b := NewObjectTypeBinder[Counter](resolve, funcs, "test", "Counter")
	b.Method("merge", func(c *Counter, other Counter) int32 { return 0 }, types.Public)

	err := b.Err()
	require.Error(t, err)
	var be *util.BindError
	require.ErrorAs(t, err, &be)
	require.Equal(t, util.ErrMethodArgStructByValue, be.Code)
}

func TestPropAlreadyBound(t *testing.T) {
	i32 := &types.Type{FQN: "i32", ID: types.HashFQN("i32")}
	bound := map[reflect.Type]*types.Type{reflect.TypeOf(int32(0)): i32}
	funcs := NewRegistry()
	resolve := resolverFor(bound)

	b := NewObjectTypeBinder[Counter](resolve, funcs, "test", "Counter")
	b.Prop("Value", types.Public)
	b.Prop("Value", types.Public)

	err := b.Err()
	require.Error(t, err)
	var be *util.BindError
	require.ErrorAs(t, err, &be)
	require.Equal(t, util.ErrPropAlreadyBound, be.Code)
}
