// Package email provides the transactional email transport used by the
// failure notifier.
//
// Production sends through Postmark (NewPostmarkClient); development
// setups write emails to disk (NewDevSender). Both implement EmailSender,
// the only surface the rest of the pipeline sees.
package email
