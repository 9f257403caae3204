package scanner

import xerrors "RiskPilot-Chain/internal/errors"

var (
	errNoHoldingsSource  = xerrors.New(xerrors.CodeInitializationFailure, "no holdings source configured")
	errNoSentimentSource = xerrors.New(xerrors.CodeInitializationFailure, "no sentiment source configured")
)
