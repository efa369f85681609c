// Package logging builds the structured logger used across the service.
//
// Components receive a *slog.Logger and scope it with
// logger.With("component", "...") themselves. The handler built here adds
// correlation fields from the context (request_id, transaction_id,
// entity_id, trace_id, span_id) and masks card numbers, IBANs, e-mail
// addresses, bearer tokens and values stored under sensitive keys such as
// "admin_token" or "password".
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithTransactionID(ctx, tx.TransactionID)
//	logger.InfoContext(ctx, "transaction evaluated", "outcome", d.Outcome)
package logging
