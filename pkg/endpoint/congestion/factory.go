package congestion

import "github.com/booksim-go/endpoint/pkg/config"

// New builds the Policy named by cfg's host_control_policy setting, wiring
// each implementation's constructor to its §6 configuration fields. Callers
// are expected to have already run cfg.Validate, which rejects unknown
// policy names.
func New(cfg *config.Config) Policy {
	policy, err := cfg.Policy()
	if err != nil {
		return None{}
	}
	switch policy {
	case config.PolicyMyPolicy:
		return NewMyPolicy(cfg.MaxPacketSendPerAck, cfg.MaxAckBeforeSendPacket, int64(cfg.TimeBeforeHaltStateTimeout), cfg.SuppressDuplicateAckMax)
	case config.PolicyTCPLike:
		return NewTCPLike(cfg.TCPLikeMSS)
	case config.PolicyECN:
		return NewECN(cfg.TCPLikeMSS, cfg.ECNGain, cfg.ECNPeriod)
	case config.PolicyHoma:
		return NewHoma(cfg.XactionLimitPerDest)
	default:
		return None{}
	}
}
