// Package checks turns raw check results from agents into a status and
// severity and keeps the per-agent result row up to date.
package checks

import (
	"fmt"
	"math"

	"fleetpilot-backend/internal/models"
)

// DefaultWindow is the number of samples averaged by cpu and memory checks.
const DefaultWindow = 15

// Evaluate computes the status and severity of one result. It updates the
// bookkeeping fields of result (history, more_info, script output) but not
// the status, severity or fail count.
func Evaluate(check *models.Check, result *models.CheckResult, p models.CheckResultPayload, window int) (models.CheckStatus, models.Severity) {
	if window <= 0 {
		window = DefaultWindow
	}

	switch check.CheckType {
	case models.CheckDiskSpace:
		return evalDisk(check, result, p)
	case models.CheckCPULoad, models.CheckMemory:
		return evalAverage(check, result, p, window)
	case models.CheckScript:
		return evalScript(check, result, p)
	case models.CheckEventLog:
		return evalEventLog(check, result, p)
	default:
		result.MoreInfo = p.Output
		return reported(p.Status), check.AlertSeverity
	}
}

// thresholds applies error before warning. A zero threshold is disabled.
func thresholds(check *models.Check, breached func(limit int) bool) (models.CheckStatus, models.Severity) {
	if check.ErrorThreshold > 0 && breached(check.ErrorThreshold) {
		return models.CheckFailing, models.SeverityError
	}
	if check.WarningThreshold > 0 && breached(check.WarningThreshold) {
		return models.CheckFailing, models.SeverityWarning
	}
	return models.CheckPassing, check.AlertSeverity
}

func evalDisk(check *models.Check, result *models.CheckResult, p models.CheckResultPayload) (models.CheckStatus, models.Severity) {
	if !p.Exists {
		result.MoreInfo = fmt.Sprintf("Disk %s does not exist", check.Disk)
		return models.CheckFailing, models.SeverityError
	}
	free := 100 - int(math.Round(p.PercentUsed))
	result.MoreInfo = p.MoreInfo
	return thresholds(check, func(limit int) bool { return free < limit })
}

func evalAverage(check *models.Check, result *models.CheckResult, p models.CheckResultPayload, window int) (models.CheckStatus, models.Severity) {
	history := append([]float64(result.History), p.Percent)
	if len(history) > window {
		history = history[len(history)-window:]
	}
	result.History = history

	var sum float64
	for _, v := range history {
		sum += v
	}
	avg := sum / float64(len(history))
	result.MoreInfo = fmt.Sprintf("Average utilization: %.0f%%", avg)

	return thresholds(check, func(limit int) bool { return avg > float64(limit) })
}

func evalScript(check *models.Check, result *models.CheckResult, p models.CheckResultPayload) (models.CheckStatus, models.Severity) {
	result.Retcode = p.Retcode
	result.Stdout = p.Stdout
	result.Stderr = p.Stderr
	result.ExecutionTime = fmt.Sprintf("%.4f", p.Runtime)

	code := int64(p.Retcode)
	switch {
	case contains(check.InfoReturnCodes, code):
		return models.CheckFailing, models.SeverityInfo
	case contains(check.WarningReturnCodes, code):
		return models.CheckFailing, models.SeverityWarning
	case p.Retcode != 0:
		return models.CheckFailing, models.SeverityError
	}
	return models.CheckPassing, check.AlertSeverity
}

func evalEventLog(check *models.Check, result *models.CheckResult, p models.CheckResultPayload) (models.CheckStatus, models.Severity) {
	result.MoreInfo = fmt.Sprintf("%d matching events", len(p.Log))
	if p.Status != "" {
		return reported(p.Status), check.AlertSeverity
	}

	enough := len(p.Log) >= max(check.NumberOfEventsB4Alert, 1)
	failing := enough
	if check.FailWhen == models.FailWhenNotContains {
		failing = !enough
	}
	if failing {
		return models.CheckFailing, check.AlertSeverity
	}
	return models.CheckPassing, check.AlertSeverity
}

// reported normalizes an agent supplied status. Anything unknown is pending.
func reported(s models.CheckStatus) models.CheckStatus {
	switch s {
	case models.CheckPassing, models.CheckFailing:
		return s
	}
	return models.CheckPending
}

func contains(codes []int64, code int64) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
