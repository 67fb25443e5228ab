// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User 用户实体
//
// FreeUsed/PaidUsed 为当月用量计数，仅在月度重置或配额回滚时减少。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // 不在 JSON 中暴露
	Name         string    `json:"name"`
	Tier         Tier      `json:"tier"`
	FreeUsed     int       `json:"free_used"`
	PaidUsed     int       `json:"paid_used"`
	ResetsAt     time.Time `json:"resets_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser 创建新用户
func NewUser(email, name string, tier Tier) *User {
	now := time.Now()
	return &User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Tier:      tier,
		ResetsAt:  NextQuotaReset(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// QuotaExpired 检查月度配额周期是否已到期
func (u *User) QuotaExpired(now time.Time) bool {
	return !now.Before(u.ResetsAt)
}

// SetPassword 设置并散列密码
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword 校验密码
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// NextQuotaReset 计算下一个配额重置时间：下个月一号零点（UTC）
func NextQuotaReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
