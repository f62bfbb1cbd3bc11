// Package config binds the endpoint's configuration surface (§6 of the
// endpoint spec) to environment variables and CLI flags, the way the
// teacher's daemon binds its own options.
package config

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/pflag"
)

// HostControlPolicy selects the congestion-control policy engine (§4.11).
type HostControlPolicy int

const (
	PolicyNone HostControlPolicy = iota
	PolicyMyPolicy
	PolicyTCPLike
	PolicyECN
	PolicyHoma
)

func (p HostControlPolicy) String() string {
	switch p {
	case PolicyMyPolicy:
		return "mypolicy"
	case PolicyTCPLike:
		return "tcp-like"
	case PolicyECN:
		return "ecn"
	case PolicyHoma:
		return "homa"
	default:
		return "none"
	}
}

// ArbType selects the injection arbiter's within-group scheduling mode (§4.3).
type ArbType int

const (
	ArbRoundRobin ArbType = iota
	ArbWeighted
)

// Config holds every recognized option from §6. Fields are grouped to match
// the table there; defaults mirror the reference's compiled-in constants.
type Config struct {
	Nodes   int `env:"EP_NODES,default=2"`
	Subnets int `env:"EP_SUBNETS,default=1"`
	Classes int `env:"EP_CLASSES,default=1"`

	EndpointTxArbType string `env:"EP_TX_ARB_TYPE,default=round-robin"`

	WeightedSchedReqInitTokens int `env:"EP_WS_REQ_TOKENS,default=8"`
	WeightedSchedRspInitTokens int `env:"EP_WS_RSP_TOKENS,default=8"`
	WeightedSchedIncrTokens    int `env:"EP_WS_INCR_TOKENS,default=1"`
	WeightedSchedRspSlotsPerReqSlot int `env:"EP_WS_RSP_SLOTS_PER_REQ_SLOT,default=1"`

	UseEndpointCrediting bool `env:"EP_USE_CREDITING,default=true"`

	InjBufDepth int `env:"EP_INJ_BUF_DEPTH,default=64"`
	PacketGenAttempts int `env:"EP_PACKET_GEN_ATTEMPTS,default=4"`

	MinPacketProcessingPenalty int `env:"EP_MIN_PACKET_PROCESSING_PENALTY,default=1"`
	MaxFlitsWaitingToInject    int `env:"EP_MAX_FLITS_WAITING_TO_INJECT,default=32"`

	AckProcessingLatency  int `env:"EP_ACK_PROCESSING_LATENCY,default=4"`
	RspProcessingLatency  int `env:"EP_RSP_PROCESSING_LATENCY,default=4"`
	ReqProcessingLatency  int `env:"EP_REQ_PROCESSING_LATENCY,default=4"`
	RgetProcessingLatency int `env:"EP_RGET_PROCESSING_LATENCY,default=4"`

	CyclesBeforeStandaloneAck  int `env:"EP_CYCLES_BEFORE_STANDALONE_ACK,default=50"`
	PacketsBeforeStandaloneAck int `env:"EP_PACKETS_BEFORE_STANDALONE_ACK,default=4"`

	EnableSACK              bool   `env:"EP_ENABLE_SACK,default=true"`
	SackVecLength           uint   `env:"EP_SACK_VEC_LENGTH,default=64"`
	MaxReceivablePktsAfterDrop int `env:"EP_MAX_RECEIVABLE_PKTS_AFTER_DROP,default=128"`

	OpbMaxPktOccupancy int `env:"EP_OPB_MAX_PKT_OCCUPANCY,default=256"`
	OpbWays            int `env:"EP_OPB_WAYS,default=4"`
	OpbDestIdxBits     uint `env:"EP_OPB_DEST_IDX_BITS,default=8"`
	OpbSeqNumIdxBits   uint `env:"EP_OPB_SEQ_NUM_IDX_BITS,default=8"`

	RetryTimerTimeout     int `env:"EP_RETRY_TIMER_TIMEOUT,default=2000"`
	MaxRetryAttempts      int `env:"EP_MAX_RETRY_ATTEMPTS,default=16"`
	ResponseTimerTimeout  int `env:"EP_RESPONSE_TIMER_TIMEOUT,default=4000"`
	RgetReqPullTimeout    int `env:"EP_RGET_REQ_PULL_TIMEOUT,default=4000"`

	XactionLimitPerDest             int `env:"EP_XACTION_LIMIT_PER_DEST,default=32"`
	XactionSizeLimitPerDestKB       int `env:"EP_XACTION_SIZE_LIMIT_PER_DEST_KB,default=256"`
	GetLimitPerDest                 int `env:"EP_GET_LIMIT_PER_DEST,default=16"`
	RgetReqLimitPerDest             int `env:"EP_RGET_REQ_LIMIT_PER_DEST,default=16"`
	GetInboundSizeLimitPerDestKB    int `env:"EP_GET_INBOUND_SIZE_LIMIT_PER_DEST_KB,default=256"`
	RgetInboundSizeLimitPerDestKB   int `env:"EP_RGET_INBOUND_SIZE_LIMIT_PER_DEST_KB,default=256"`
	GlobalGetLimit                  int `env:"EP_GLOBAL_GET_LIMIT,default=64"`
	GlobalGetReqSizeLimitKB         int `env:"EP_GLOBAL_GET_REQ_SIZE_LIMIT_KB,default=1024"`

	PutToRgetConversionRate float64 `env:"EP_PUT_TO_RGET_CONVERSION_RATE,default=0"`
	EnableAdaptiveRget      bool    `env:"EP_ENABLE_ADAPTIVE_RGET,default=false"`
	RgetConvertSamplePeriod int     `env:"EP_RGET_CONVERT_SAMPLE_PERIOD,default=1000"`
	RgetConvertUnackedPerc  float64 `env:"EP_RGET_CONVERT_UNACKED_PERC,default=0.7"`
	RgetRevertAckedPerc     float64 `env:"EP_RGET_REVERT_ACKED_PERC,default=0.9"`
	RgetConvertNumSamples   uint    `env:"EP_RGET_CONVERT_NUM_SAMPLES,default=2"`
	RgetMinSamplesSinceLastTransition int `env:"EP_RGET_MIN_SAMPLES_SINCE_LAST_TRANSITION,default=4"`
	ReadRequestSize         int     `env:"EP_READ_REQUEST_SIZE,default=1"`

	HostControlPolicy string `env:"EP_HOST_CONTROL_POLICY,default=none"`

	PutWaitBufSize      int `env:"EP_PUT_WAIT_BUF_SIZE,default=128"`
	LoadBalanceBufSize  int `env:"EP_LOAD_BALANCE_BUF_SIZE,default=32"`
	PutHeaderFlit       int `env:"EP_PUT_HEADER_FLIT,default=1"`

	HostBandwidthGbps               float64 `env:"EP_HOST_BANDWIDTH_GBPS,default=100"`
	HostBandwidthGbpsLow            float64 `env:"EP_HOST_BANDWIDTH_GBPS_LOW,default=25"`
	InterHostBandwidthChangeMean     float64 `env:"EP_INTER_HOST_BANDWIDTH_CHANGE_MEAN,default=10000"`
	InterHostBandwidthChangeVariance float64 `env:"EP_INTER_HOST_BANDWIDTH_CHANGE_VARIANCE,default=2000"`

	HostCongestionActive []int `env:"EP_HOST_CONGESTION_ACTIVE"`

	DebugEndpoint bool `env:"EP_DEBUG_ENDPOINT,default=false"`
	TraceDebug    bool `env:"EP_TRACE_DEBUG,default=false"`
	DebugSack     bool `env:"EP_DEBUG_SACK,default=false"`

	// mypolicy-specific constants, not exposed in the §6 table as
	// standalone options in the distilled spec but required by §4.11 and
	// carried from the reference's mypolicy_host_control_constant_record.
	MaxPacketSendPerAck      int `env:"EP_MAX_PACKET_SEND_PER_ACK,default=8"`
	MaxAckBeforeSendPacket   int `env:"EP_MAX_ACK_BEFORE_SEND_PACKET,default=-8"`
	TimeBeforeHaltStateTimeout int `env:"EP_TIME_BEFORE_HALT_STATE_TIMEOUT,default=8000"`
	DelayedAckThreshold      int `env:"EP_DELAYED_ACK_THRESHOLD,default=16"`
	NackReservationSize      int `env:"EP_NACK_RESERVATION_SIZE,default=2048"`
	SuppressDuplicateAckMax  int `env:"EP_SUPPRESS_DUPLICATE_ACK_MAX,default=4"`
	SpeculativeAckQueueSize  int `env:"EP_SPECULATIVE_ACK_QUEUE_SIZE,default=8"`
	LoadBalanceQueueEnabled  bool `env:"EP_LOAD_BALANCE_QUEUE_ENABLED,default=true"`
	SpeculativeAckEnabled    bool `env:"EP_SPECULATIVE_ACK_ENABLED,default=true"`
	FairnessResetPeriod      int `env:"EP_FAIRNESS_RESET_PERIOD,default=4000"`
	FairnessSamplingTime     int `env:"EP_FAIRNESS_SAMPLING_TIME,default=1000"`
	FairnessDiffThreshold    int `env:"EP_FAIRNESS_DIFF_THRESHOLD,default=8"`

	// tcp-like / ECN constants.
	TCPLikeMSS     int     `env:"EP_TCPLIKE_MSS,default=1"`
	ECNPeriod      int     `env:"EP_ECN_PERIOD,default=100"`
	ECNThreshold   int     `env:"EP_ECN_THRESHOLD,default=96"`
	ECNGain        float64 `env:"EP_ECN_GAIN,default=0.0625"`
}

// Policy parses HostControlPolicy into the typed enum, rejecting unknown
// values as a configuration error (§7).
func (c *Config) Policy() (HostControlPolicy, error) {
	switch c.HostControlPolicy {
	case "none", "":
		return PolicyNone, nil
	case "mypolicy":
		return PolicyMyPolicy, nil
	case "tcp-like":
		return PolicyTCPLike, nil
	case "ecn":
		return PolicyECN, nil
	case "homa":
		return PolicyHoma, nil
	default:
		return PolicyNone, errors.Errorf("unrecognized host_control_policy %q", c.HostControlPolicy)
	}
}

// ArbMode parses EndpointTxArbType.
func (c *Config) ArbMode() ArbType {
	if c.EndpointTxArbType == "weighted" {
		return ArbWeighted
	}
	return ArbRoundRobin
}

// Validate enforces the configuration errors called out in §7: values that
// abort at init rather than mid-run.
func (c *Config) Validate() error {
	if c.SackVecLength > 64 {
		return errors.Errorf("sack_vec_length %d exceeds the 64-bit SACK vector width", c.SackVecLength)
	}
	if c.RgetConvertNumSamples > 2 {
		return errors.Errorf("rget_convert_num_samples %d is not supported; the adaptive RGET window only supports 1 or 2 samples", c.RgetConvertNumSamples)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Load reads defaults, overlays environment variables via go-envconfig, and
// returns a validated Config.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "loading endpoint configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags registers pflag flags that override the environment-derived
// defaults, mirroring the teacher's cobra+pflag command wiring.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Nodes, "nodes", c.Nodes, "number of endpoints in the simulation")
	fs.IntVar(&c.Subnets, "subnets", c.Subnets, "number of fabric subnets")
	fs.IntVar(&c.Classes, "classes", c.Classes, "number of traffic classes")
	fs.StringVar(&c.EndpointTxArbType, "endpoint-tx-arb-type", c.EndpointTxArbType, "injection arbiter mode: round-robin or weighted")
	fs.StringVar(&c.HostControlPolicy, "host-control-policy", c.HostControlPolicy, "congestion policy: none, mypolicy, tcp-like, ecn, homa")
	fs.BoolVar(&c.EnableSACK, "enable-sack", c.EnableSACK, "enable selective acknowledgement")
	fs.UintVar(&c.SackVecLength, "sack-vec-length", c.SackVecLength, "SACK vector length in bits (max 64)")
	fs.BoolVar(&c.EnableAdaptiveRget, "enable-adaptive-rget", c.EnableAdaptiveRget, "enable adaptive put-to-rget conversion")
	fs.BoolVar(&c.DebugEndpoint, "debug-endpoint", c.DebugEndpoint, "enable endpoint debug logging")
}

func (p HostControlPolicy) GoString() string { return fmt.Sprintf("HostControlPolicy(%s)", p.String()) }
