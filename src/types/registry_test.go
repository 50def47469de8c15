package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func primitiveType(fqn string) *Type {
	return &Type{
		Kind:      KindPlain,
		FQN:       fqn,
		ShortName: fqn,
		ID:        HashFQN(fqn),
		Meta:      Meta{Primitive: true, POD: true},
	}
}

func TestTypeEquivalenceIsAnEquivalenceRelation(t *testing.T) {
	i32 := primitiveType("i32")
	i32b := primitiveType("i32")
	f32 := primitiveType("f32")

	require.True(t, i32.EquivalentTo(i32), "reflexive")
	require.True(t, i32.EquivalentTo(i32b))
	require.True(t, i32b.EquivalentTo(i32), "symmetric")

	i32c := primitiveType("i32")
	require.True(t, i32.EquivalentTo(i32b) && i32b.EquivalentTo(i32c))
	require.True(t, i32.EquivalentTo(i32c), "transitive")

	require.False(t, i32.EquivalentTo(f32))
}

func TestAliasChasingForEqualTo(t *testing.T) {
	base := primitiveType("i32")
	alias := &Type{Kind: KindAlias, FQN: "int", ID: HashFQN("int"), AliasOf: base}

	require.True(t, alias.EqualTo(base))
	require.Equal(t, base, alias.GetEffectiveType())
}

func TestSignatureInterningSharesOneObjectPerStructuralShape(t *testing.T) {
	r := NewRegistry()
	i32 := primitiveType("i32")
	f32 := primitiveType("f32")

	sigA := &Type{Return: i32, Args: []Argument{{Kind: ArgValue, Type: f32}}}
	sigB := &Type{Return: i32, Args: []Argument{{Kind: ArgValue, Type: f32}}}

	a := r.InternFunctionType(sigA)
	b := r.InternFunctionType(sigB)

	require.Same(t, a, b, "two structurally identical signatures must share one object")
	require.Equal(t, a.ID, b.ID)

	count := 0
	for _, ty := range r.AllTypes() {
		if ty.Kind == KindFunction {
			count++
		}
	}
	require.Equal(t, 1, count, "registry must hold at most one object per structural signature")
}

func TestSignatureInterningDistinguishesByThisnessAndArgKind(t *testing.T) {
	r := NewRegistry()
	i32 := primitiveType("i32")
	self := primitiveType("Counter")

	free := r.InternFunctionType(&Type{Return: i32})
	method := r.InternFunctionType(&Type{Return: i32, This: self})
	require.NotEqual(t, free.ID, method.ID)

	byVal := r.InternFunctionType(&Type{Return: i32, Args: []Argument{{Kind: ArgValue, Type: i32}}})
	byPtr := r.InternFunctionType(&Type{Return: i32, Args: []Argument{{Kind: ArgPointer, Type: i32}}})
	require.NotEqual(t, byVal.ID, byPtr.ID)
}
