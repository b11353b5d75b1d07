package outbound_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"

	outbound "github.com/portgw/npac-outbound"
	mock_outbound "github.com/portgw/npac-outbound/mocks"
)

func TestGateOpensOnceAndCachesTheResult(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	probe := mock_outbound.NewMockRecoveryProbe(ctrl)
	gates := outbound.NewGateStore(probe, zerolog.Nop())

	partition := outbound.Partition{SPID: "A123", Region: "MW"}

	gomock.InOrder(
		probe.EXPECT().Recovered(gomock.Any(), partition).Return(false, nil).Times(2),
		probe.EXPECT().Recovered(gomock.Any(), partition).Return(true, nil),
	)

	assert.False(t, gates.Satisfied(ctx, partition))
	assert.Equal(t, outbound.GateDown, gates.State(partition.Key()))
	assert.False(t, gates.Satisfied(ctx, partition))

	assert.True(t, gates.Satisfied(ctx, partition))
	assert.Equal(t, outbound.GateOpen, gates.State(partition.Key()))

	// Once open, the probe never runs again for this partition.
	for i := 0; i < 5; i++ {
		assert.True(t, gates.Satisfied(ctx, partition))
	}
}

func TestGateProbeFailureKeepsGateDown(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	probe := mock_outbound.NewMockRecoveryProbe(ctrl)
	gates := outbound.NewGateStore(probe, zerolog.Nop())

	partition := outbound.Partition{SPID: "A123", Region: "MW"}
	probe.EXPECT().Recovered(gomock.Any(), partition).Return(false, errors.New("query timed out"))

	assert.False(t, gates.Satisfied(ctx, partition))
	assert.Equal(t, outbound.GateDown, gates.State(partition.Key()))
}

func TestGatesAreIndependentPerPartition(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	probe := mock_outbound.NewMockRecoveryProbe(ctrl)
	gates := outbound.NewGateStore(probe, zerolog.Nop())

	up := outbound.Partition{SPID: "A123", Region: "MW"}
	down := outbound.Partition{SPID: "B456", Region: "MW"}

	probe.EXPECT().Recovered(gomock.Any(), up).Return(true, nil)
	probe.EXPECT().Recovered(gomock.Any(), down).Return(false, nil)

	assert.True(t, gates.Satisfied(ctx, up))
	assert.False(t, gates.Satisfied(ctx, down))
	assert.Equal(t, outbound.GateOpen, gates.State(up.Key()))
	assert.Equal(t, outbound.GateDown, gates.State(down.Key()))
}

func TestGateResetReArmsTheProbe(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	probe := mock_outbound.NewMockRecoveryProbe(ctrl)
	gates := outbound.NewGateStore(probe, zerolog.Nop())

	partition := outbound.Partition{SPID: "A123", Region: "MW"}

	gomock.InOrder(
		probe.EXPECT().Recovered(gomock.Any(), partition).Return(true, nil),
		probe.EXPECT().Recovered(gomock.Any(), partition).Return(false, nil),
	)

	assert.True(t, gates.Satisfied(ctx, partition))

	// A session loss re-arms the gate; the next cycle must probe again.
	gates.Reset(partition)
	assert.Equal(t, outbound.GateUnknown, gates.State(partition.Key()))
	assert.False(t, gates.Satisfied(ctx, partition))
}

func TestNilProbeMeansNoGating(t *testing.T) {
	gates := outbound.NewGateStore(nil, zerolog.Nop())

	partition := outbound.Partition{SPID: "A123", Region: "MW"}
	assert.True(t, gates.Satisfied(context.Background(), partition))
	assert.Equal(t, outbound.GateUnknown, gates.State(partition.Key()))
}
