package metrics

// RecordProtect records a protect workflow outcome: protected, blocked_local,
// blocked_remote or failed.
func RecordProtect(outcome string) {
	if !enabled {
		return
	}
	protectTotal.WithLabelValues(outcome).Inc()
}

// RecordVerify records a verify workflow result.
func RecordVerify(result string) {
	if !enabled {
		return
	}
	verifyTotal.WithLabelValues(result).Inc()
}

// RecordRegister records a register workflow outcome.
func RecordRegister(outcome string) {
	if !enabled {
		return
	}
	registerTotal.WithLabelValues(outcome).Inc()
}

// RecordServiceCall records a direct service call such as strip or detect.
func RecordServiceCall(operation string, err error) {
	if !enabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	serviceCallTotal.WithLabelValues(operation, status).Inc()
}
