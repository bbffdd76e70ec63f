package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SettingsRepo 设置仓库
type SettingsRepo struct {
	db *DB
}

// NewSettingsRepo 创建设置仓库实例
func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get 获取设置值
func (r *SettingsRepo) Get(key string) (string, error) {
	var setting Setting
	result := r.db.GormDB().Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", result.Error
	}
	return setting.Value, nil
}

// GetWithDefault 获取设置值，不存在时返回默认值
func (r *SettingsRepo) GetWithDefault(key, defaultValue string) string {
	val, err := r.Get(key)
	if err != nil {
		return defaultValue
	}
	return val
}

// Set 设置值（存在则更新，不存在则创建）
func (r *SettingsRepo) Set(key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.db.GormDB().Save(&setting).Error
}

// Delete 删除设置
func (r *SettingsRepo) Delete(key string) error {
	err := r.db.GormDB().Delete(&Setting{}, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// GetAll 获取所有设置
func (r *SettingsRepo) GetAll() (map[string]string, error) {
	var settings []Setting
	if err := r.db.GormDB().Find(&settings).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}

// 便捷方法

// GetDevToolsURL 获取 DevTools URL
func (r *SettingsRepo) GetDevToolsURL() string {
	return r.GetWithDefault(SettingKeyDevToolsURL, "http://localhost:9222")
}

// SetDevToolsURL 设置 DevTools URL
func (r *SettingsRepo) SetDevToolsURL(url string) error {
	return r.Set(SettingKeyDevToolsURL, url)
}

// GetPolicyPath 获取策略配置文件路径
func (r *SettingsRepo) GetPolicyPath() string {
	return r.GetWithDefault(SettingKeyPolicyPath, "")
}

// SetPolicyPath 设置策略配置文件路径
func (r *SettingsRepo) SetPolicyPath(path string) error {
	return r.Set(SettingKeyPolicyPath, path)
}

// GetTheme 获取主题
func (r *SettingsRepo) GetTheme() string {
	return r.GetWithDefault(SettingKeyTheme, "system")
}

// SetTheme 设置主题
func (r *SettingsRepo) SetTheme(theme string) error {
	return r.Set(SettingKeyTheme, theme)
}
