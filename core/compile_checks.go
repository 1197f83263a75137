package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AccessTokenSource         = (*Service)(nil)
	_ AuthorizationSessionStore = (*MemoryAuthorizationSessionStore)(nil)
	_ ConnectionLocker          = (*MemoryConnectionLocker)(nil)
	_ EventPublisher            = NopEventPublisher{}
	_ MetricsRecorder           = NopMetricsRecorder{}
	_ ConfigProvider            = (*CfgxConfigProvider)(nil)
	_ OptionsResolver           = GoOptionsResolver{}
	_ OutboundProvider          = MailboxAPIProvider{}
	_ OutboundProvider          = DirectSMTPProvider{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
