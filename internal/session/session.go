package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"omdchat/internal/cache"
	"omdchat/internal/errs"

	"github.com/golang-jwt/jwt/v5"
)

// Store 会话存储。令牌本身是自描述的签名 JWT，但有效性还要求
// 外部存储中该账号的映射与令牌完全一致：覆盖或删除映射即可让一个
// 签名仍然有效的令牌立刻失效，这是强制下线的唯一机制。
type Store struct {
	cache  cache.Cache
	secret []byte
	ttl    time.Duration
}

// NewStore 创建会话存储
func NewStore(c cache.Cache, secret string, ttl time.Duration) *Store {
	return &Store{
		cache:  c,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// tokenKey 存储键格式 user:token:{accountId}
func tokenKey(accountID string) string {
	return "user:token:" + accountID
}

// Issue 为账号签发会话令牌。若存储中已有未过期的映射，直接返回
// 原令牌，避免短时间内重复登录造成的令牌翻腾。
func (s *Store) Issue(ctx context.Context, accountID string) (string, error) {
	key := tokenKey(accountID)

	existing, err := s.cache.Get(ctx, key)
	if err == nil && existing != "" {
		log.Printf("账号 %s 已有有效令牌，直接返回", accountID)
		return existing, nil
	}
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return "", errs.TransientStore("读取会话映射失败", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": accountID,
		"exp":     now.Add(s.ttl).Unix(),
		"iat":     now.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errs.Internal("签发令牌失败", err)
	}

	// 映射与令牌同寿命，过期后自然清理
	if err := s.cache.Set(ctx, key, token, s.ttl); err != nil {
		return "", errs.TransientStore("写入会话映射失败", err)
	}

	log.Printf("账号 %s 登录成功，已签发令牌", accountID)
	return token, nil
}

// Validate 校验令牌并返回账号ID。两步都必须通过：
// (a) 签名有效且未过期（无状态，不访问存储）；
// (b) 存储中该账号映射的令牌与本令牌完全一致（有状态）。
func (s *Store) Validate(ctx context.Context, tokenString string) (string, error) {
	accountID, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}

	stored, err := s.cache.Get(ctx, tokenKey(accountID))
	if errors.Is(err, cache.ErrNotFound) {
		return "", errs.Authentication(errs.ReasonRevoked, "令牌已被撤销")
	}
	if err != nil {
		return "", errs.TransientStore("读取会话映射失败", err)
	}
	if stored != tokenString {
		log.Printf("账号 %s 的令牌与存储不一致，按已撤销处理", accountID)
		return "", errs.Authentication(errs.ReasonRevoked, "令牌已被撤销")
	}

	return accountID, nil
}

// Invalidate 删除会话映射，令牌从此通不过存储校验。
// 不动令牌本身，它的签名在自然过期前仍是有效的。
func (s *Store) Invalidate(ctx context.Context, accountID string) error {
	if err := s.cache.Del(ctx, tokenKey(accountID)); err != nil {
		return errs.TransientStore("删除会话映射失败", err)
	}
	log.Printf("账号 %s 的会话已失效", accountID)
	return nil
}

// parse 无状态校验：验证签名算法、签名与过期时间，取出账号ID
func (s *Store) parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名方法: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errs.Authentication(errs.ReasonExpiredOrMalformed, "令牌无效或已过期")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errs.Authentication(errs.ReasonExpiredOrMalformed, "令牌无效或已过期")
	}
	accountID, ok := claims["user_id"].(string)
	if !ok || accountID == "" {
		return "", errs.Authentication(errs.ReasonExpiredOrMalformed, "令牌缺少账号信息")
	}
	return accountID, nil
}
