package websocket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims 握手令牌携带的身份信息，可选绑定一个活跃求救单
type Claims struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"` // requester / rescuer / admin
	CaseID    string `json:"caseId,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SignToken 签发握手令牌：base64(claims) + "." + hmac-sha256
func SignToken(secret string, claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + sign(secret, payload), nil
}

// VerifyToken 校验令牌签名与有效期，未认证的握手在升级前被拒绝
func VerifyToken(secret, token string) (*Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("令牌格式错误")
	}
	if !hmac.Equal([]byte(sign(secret, parts[0])), []byte(parts[1])) {
		return nil, fmt.Errorf("令牌签名不合法")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("令牌解码失败: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("令牌内容解析失败: %w", err)
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("令牌已过期")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("令牌缺少用户身份")
	}
	return &claims, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
