package user

import (
	"context"
	"errors"
	"log"
	"time"

	"omdchat/internal/errs"
	"omdchat/internal/model"
	"omdchat/internal/presence"
	"omdchat/internal/session"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AccountService 账号目录：注册、登录登出、查询与冻结检查。
// 登录成功即签发会话并标记在线，登出则撤销会话并标记离线。
type AccountService struct {
	db       *gorm.DB
	sessions *session.Store
	presence *presence.Tracker
}

// NewAccountService 创建账号服务
func NewAccountService(db *gorm.DB, sessions *session.Store, tracker *presence.Tracker) *AccountService {
	return &AccountService{
		db:       db,
		sessions: sessions,
		presence: tracker,
	}
}

// Register 注册新账号
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (string, error) {
	db := s.db.WithContext(ctx)

	// 检查用户名是否已存在
	var count int64
	if err := db.Model(&model.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return "", errs.TransientStore("查询账号失败", err)
	}
	if count > 0 {
		return "", errs.Conflict("用户名已存在")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", errs.Internal("哈希密码失败", err)
	}

	u := model.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Password:  string(hashedPassword),
		Nickname:  req.Nickname,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&u).Error; err != nil {
		return "", errs.TransientStore("创建账号失败", err)
	}

	log.Printf("账号 %s (ID: %s) 注册成功", u.Username, u.ID)
	return u.ID, nil
}

// Login 登录。冻结账号不允许登录；成功后签发会话（幂等）并标记在线。
func (s *AccountService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Authentication("", "用户名或密码错误")
		}
		return nil, errs.TransientStore("查询账号失败", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		log.Printf("账号 %s 密码验证失败", req.Username)
		return nil, errs.Authentication("", "用户名或密码错误")
	}

	if u.Frozen {
		return nil, errs.Authorization("账号已被冻结")
	}

	token, err := s.sessions.Issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	if err := s.presence.MarkOnline(ctx, u.ID); err != nil {
		// 在线标记失败不影响登录，推送转为离线路径
		log.Printf("标记账号 %s 在线失败: %v", u.ID, err)
	}

	return &LoginResponse{UserID: u.ID, Token: token}, nil
}

// Logout 登出：撤销会话映射并标记离线
func (s *AccountService) Logout(ctx context.Context, accountID string) error {
	if err := s.sessions.Invalidate(ctx, accountID); err != nil {
		return err
	}
	if err := s.presence.MarkOffline(ctx, accountID); err != nil {
		return err
	}
	log.Printf("账号 %s 退出登录", accountID)
	return nil
}

// UpdatePassword 修改密码并重新签发会话：旧会话映射被删除，
// 已发出的旧令牌从此通不过存储校验。
func (s *AccountService) UpdatePassword(ctx context.Context, accountID string, req *UpdatePasswordRequest) (string, error) {
	u, err := s.LookupAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	var record model.User
	if err := s.db.WithContext(ctx).Where("id = ?", u.ID).First(&record).Error; err != nil {
		return "", errs.TransientStore("查询账号失败", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.Password), []byte(req.OldPassword)); err != nil {
		return "", errs.Validation("原密码错误")
	}
	if req.NewPassword == req.OldPassword {
		return "", errs.Validation("新密码不能与旧密码相同")
	}
	if req.NewPassword != req.ConfirmPassword {
		return "", errs.Validation("新密码与确认密码不一致")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", errs.Internal("哈希密码失败", err)
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", accountID).
		Update("password", string(hashed))
	if res.Error != nil {
		return "", errs.TransientStore("更新密码失败", res.Error)
	}

	// 先删旧映射再签发，保证拿到的是新令牌
	if err := s.sessions.Invalidate(ctx, accountID); err != nil {
		return "", err
	}
	token, err := s.sessions.Issue(ctx, accountID)
	if err != nil {
		return "", err
	}

	log.Printf("账号 %s 修改密码成功，会话已重新签发", accountID)
	return token, nil
}

// LookupAccount 按ID查询账号
func (s *AccountService) LookupAccount(ctx context.Context, accountID string) (*UserResponse, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("账号不存在")
		}
		return nil, errs.TransientStore("查询账号失败", err)
	}
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Nickname:  u.Nickname,
		Frozen:    u.Frozen,
		CreatedAt: u.CreatedAt,
	}, nil
}

// IsFrozen 账号是否被冻结
func (s *AccountService) IsFrozen(ctx context.Context, accountID string) (bool, error) {
	u, err := s.LookupAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return u.Frozen, nil
}

// SearchUsers 按用户名或昵称模糊搜索账号
func (s *AccountService) SearchUsers(ctx context.Context, query string) ([]*UserResponse, error) {
	if query == "" {
		return nil, errs.Validation("搜索关键字不能为空")
	}

	var users []model.User
	err := s.db.WithContext(ctx).
		Where("username LIKE ? OR nickname LIKE ?", "%"+query+"%", "%"+query+"%").
		Limit(50).
		Find(&users).Error
	if err != nil {
		return nil, errs.TransientStore("搜索账号失败", err)
	}

	result := make([]*UserResponse, 0, len(users))
	for _, u := range users {
		result = append(result, &UserResponse{
			ID:        u.ID,
			Username:  u.Username,
			Nickname:  u.Nickname,
			Frozen:    u.Frozen,
			CreatedAt: u.CreatedAt,
		})
	}
	return result, nil
}
