package notification

import (
	"context"
	"fmt"
)

type SMSConfig struct {
	AccessKeyId     string
	AccessKeySecret string
	SignName        string
	TemplateCode    string
	Endpoint        string // 默认 cn-hangzhou
}

// SMSClient 便于替换/注入的发送接口（适配真实 SDK）
type SMSClient interface {
	Send(ctx context.Context, phone, sign, template string, params map[string]string) error
}

// SOSNotifier 求救单相关的短信通知
type SOSNotifier struct {
	cfg SMSConfig
	cli SMSClient
}

func NewSOSNotifier(cfg SMSConfig, cli SMSClient) *SOSNotifier {
	return &SOSNotifier{cfg: cfg, cli: cli}
}

// SendCaseCreated 求救单创建后通知紧急联系人
func (n *SOSNotifier) SendCaseCreated(ctx context.Context, phone, caseNumber string) error {
	if n.cli == nil {
		return fmt.Errorf("SMSClient not configured")
	}
	params := map[string]string{"case_number": caseNumber, "event": "created"}
	return n.cli.Send(ctx, phone, n.cfg.SignName, n.cfg.TemplateCode, params)
}

// SendCaseClosed 求救单进入终态后通知
func (n *SOSNotifier) SendCaseClosed(ctx context.Context, phone, caseNumber, status string) error {
	if n.cli == nil {
		return fmt.Errorf("SMSClient not configured")
	}
	params := map[string]string{"case_number": caseNumber, "event": "closed", "status": status}
	return n.cli.Send(ctx, phone, n.cfg.SignName, n.cfg.TemplateCode, params)
}
