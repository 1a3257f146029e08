package orchestrator

import "fmt"

// Mode is the advisory persona selected by the user. The set is closed:
// unknown modes must be rejected by the calling layer.
type Mode string

const (
	ModeConsulta  Mode = "consulta"  // general consultation
	ModeDaytrade  Mode = "daytrade"  // intraday operation
	ModePortfolio Mode = "portfolio" // portfolio review
	ModeRobot     Mode = "robot"     // trading-robot code generation
)

// Modes lists all valid modes.
func Modes() []Mode {
	return []Mode{ModeConsulta, ModeDaytrade, ModePortfolio, ModeRobot}
}

// ParseMode validates a raw mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeConsulta, ModeDaytrade, ModePortfolio, ModeRobot:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}
