package gormstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"

	"jobscheduler/pkg/job"
	"jobscheduler/pkg/storage"
	"jobscheduler/pkg/timex"
)

// Verify Store satisfies the job.Store interface.
var _ job.Store = (*Store)(nil)

// Store persists jobs and triggers through gorm. Every method joins the
// transaction carried by ctx when there is one.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return storage.Conn(ctx, s.db)
}

func (s *Store) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.conn(ctx).Transaction(fn)
}

func whereJob(tx *gorm.DB, key job.JobKey) *gorm.DB {
	return tx.Where("job_group = ? AND job_name = ?", key.Group, key.Name)
}

func whereTrigger(tx *gorm.DB, key job.TriggerKey) *gorm.DB {
	return tx.Where("trigger_group = ? AND trigger_name = ?", key.Group, key.Name)
}

func findJob(tx *gorm.DB, key job.JobKey) (*JobDetail, error) {
	var m JobDetail
	if err := whereJob(tx, key).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrJobNotFound
		}
		return nil, errors.WithStack(err)
	}
	return &m, nil
}

func findTrigger(tx *gorm.DB, key job.TriggerKey) (*Trigger, error) {
	var m Trigger
	if err := whereTrigger(tx, key).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrTriggerNotFound
		}
		return nil, errors.WithStack(err)
	}
	return &m, nil
}

func (s *Store) StoreJob(ctx context.Context, j *job.JobDetail, replace bool) error {
	m, err := fromJobDetail(j)
	if err != nil {
		return err
	}
	return s.tx(ctx, func(tx *gorm.DB) error {
		old, err := findJob(tx, j.Key)
		if err != nil {
			if !errors.Is(err, job.ErrJobNotFound) {
				return err
			}
			return errors.WithStack(tx.Create(m).Error)
		}
		if !replace {
			return job.ErrObjectAlreadyExists
		}
		m.Blocked = old.Blocked
		return errors.WithStack(tx.Save(m).Error)
	})
}

func (s *Store) RemoveJob(ctx context.Context, key job.JobKey) (bool, error) {
	var found bool
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := whereJob(tx, key).Delete(&Trigger{}).Error; err != nil {
			return errors.WithStack(err)
		}
		result := whereJob(tx, key).Delete(&JobDetail{})
		if result.Error != nil {
			return errors.WithStack(result.Error)
		}
		found = result.RowsAffected > 0
		return nil
	})
	return found, err
}

func (s *Store) RetrieveJob(ctx context.Context, key job.JobKey) (*job.JobDetail, error) {
	m, err := findJob(s.conn(ctx), key)
	if err != nil {
		return nil, err
	}
	return m.toJobDetail()
}

func (s *Store) CheckJobExists(ctx context.Context, key job.JobKey) (bool, error) {
	var count int64
	if err := whereJob(s.conn(ctx).Model(&JobDetail{}), key).Count(&count).Error; err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

func (s *Store) StoreTrigger(ctx context.Context, t *job.Trigger, replace bool) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := findTrigger(tx, t.Key); err == nil {
			if !replace {
				return job.ErrObjectAlreadyExists
			}
			if err = whereTrigger(tx, t.Key).Delete(&Trigger{}).Error; err != nil {
				return errors.WithStack(err)
			}
		} else if !errors.Is(err, job.ErrTriggerNotFound) {
			return err
		}
		return storeTrigger(tx, t)
	})
}

func storeTrigger(tx *gorm.DB, t *job.Trigger) error {
	j, err := findJob(tx, t.JobKey)
	if err != nil {
		return err
	}
	paused, err := isGroupPaused(tx, t.Key.Group)
	if err != nil {
		return err
	}
	m := fromTrigger(t)
	m.FireInstanceID = ""
	m.State = string(job.InitialState(paused, j.Blocked))
	return errors.WithStack(tx.Create(m).Error)
}

func isGroupPaused(tx *gorm.DB, group string) (bool, error) {
	var count int64
	if err := tx.Model(&PausedGroup{}).Where("trigger_group = ?", group).Count(&count).Error; err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

func (s *Store) RemoveTrigger(ctx context.Context, key job.TriggerKey) (bool, error) {
	var found bool
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var err error
		found, err = removeTrigger(tx, key)
		return err
	})
	return found, err
}

// removeTrigger 删除触发器,非持久任务失去最后一个触发器时一并删除
func removeTrigger(tx *gorm.DB, key job.TriggerKey) (bool, error) {
	m, err := findTrigger(tx, key)
	if err != nil {
		if errors.Is(err, job.ErrTriggerNotFound) {
			return false, nil
		}
		return false, err
	}
	if err = whereTrigger(tx, key).Delete(&Trigger{}).Error; err != nil {
		return false, errors.WithStack(err)
	}
	jobKey := job.NewJobKey(m.JobGroup, m.JobName)
	var remain int64
	if err = whereJob(tx.Model(&Trigger{}), jobKey).Count(&remain).Error; err != nil {
		return false, errors.WithStack(err)
	}
	if remain == 0 {
		if err = whereJob(tx, jobKey).Where("durable = ?", false).Delete(&JobDetail{}).Error; err != nil {
			return false, errors.WithStack(err)
		}
	}
	return true, nil
}

func (s *Store) ReplaceTrigger(ctx context.Context, key job.TriggerKey, t *job.Trigger) (bool, error) {
	var found bool
	err := s.tx(ctx, func(tx *gorm.DB) error {
		old, err := findTrigger(tx, key)
		if err != nil {
			if errors.Is(err, job.ErrTriggerNotFound) {
				return nil
			}
			return err
		}
		if old.JobGroup != t.JobKey.Group || old.JobName != t.JobKey.Name {
			return job.ErrJobNotFound
		}
		if err = whereTrigger(tx, key).Delete(&Trigger{}).Error; err != nil {
			return errors.WithStack(err)
		}
		if err = storeTrigger(tx, t); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *Store) RetrieveTrigger(ctx context.Context, key job.TriggerKey) (*job.Trigger, error) {
	m, err := findTrigger(s.conn(ctx), key)
	if err != nil {
		return nil, err
	}
	return m.toTrigger(), nil
}

func (s *Store) TriggersOfJob(ctx context.Context, key job.JobKey) ([]*job.Trigger, error) {
	var list []*Trigger
	if err := whereJob(s.conn(ctx), key).Order("trigger_name").Find(&list).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*job.Trigger, 0, len(list))
	for _, m := range list {
		result = append(result, m.toTrigger())
	}
	return result, nil
}

func (s *Store) JobGroupNames(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.conn(ctx).Model(&JobDetail{}).Distinct().Order("job_group").
		Pluck("job_group", &groups).Error
	return groups, errors.WithStack(err)
}

func (s *Store) JobKeys(ctx context.Context, group string) ([]job.JobKey, error) {
	var names []string
	if err := s.conn(ctx).Model(&JobDetail{}).Where("job_group = ?", group).Order("job_name").
		Pluck("job_name", &names).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	keys := make([]job.JobKey, 0, len(names))
	for _, name := range names {
		keys = append(keys, job.NewJobKey(group, name))
	}
	return keys, nil
}

func (s *Store) TriggerGroupNames(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.conn(ctx).Model(&Trigger{}).Distinct().Order("trigger_group").
		Pluck("trigger_group", &groups).Error
	return groups, errors.WithStack(err)
}

func (s *Store) TriggerKeys(ctx context.Context, group string) ([]job.TriggerKey, error) {
	var names []string
	if err := s.conn(ctx).Model(&Trigger{}).Where("trigger_group = ?", group).Order("trigger_name").
		Pluck("trigger_name", &names).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	keys := make([]job.TriggerKey, 0, len(names))
	for _, name := range names {
		keys = append(keys, job.NewTriggerKey(group, name))
	}
	return keys, nil
}

func (s *Store) TriggerState(ctx context.Context, key job.TriggerKey) (job.TriggerState, error) {
	m, err := findTrigger(s.conn(ctx), key)
	if err != nil {
		if errors.Is(err, job.ErrTriggerNotFound) {
			return job.StateNone, nil
		}
		return job.StateNone, err
	}
	return job.TriggerState(m.State), nil
}

func setState(tx *gorm.DB, state job.TriggerState, from ...job.TriggerState) error {
	return errors.WithStack(tx.Model(&Trigger{}).Where("state IN ?", states(from...)).
		Update("state", string(state)).Error)
}

func states(list ...job.TriggerState) []string {
	result := make([]string, 0, len(list))
	for _, s := range list {
		result = append(result, string(s))
	}
	return result
}

// pause 暂停 scope 范围内的触发器
func pause(scope func() *gorm.DB) error {
	if err := setState(scope(), job.StatePausedBlocked, job.StateBlocked); err != nil {
		return err
	}
	return setState(scope(), job.StatePaused, job.StateNormal, job.StateAcquired, job.StateError)
}

func (s *Store) PauseTrigger(ctx context.Context, key job.TriggerKey) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		return pause(func() *gorm.DB { return whereTrigger(tx, key) })
	})
}

func (s *Store) ResumeTrigger(ctx context.Context, key job.TriggerKey) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		m, err := findTrigger(tx, key)
		if err != nil {
			if errors.Is(err, job.ErrTriggerNotFound) {
				return nil
			}
			return err
		}
		return resume(tx, m)
	})
}

func resume(tx *gorm.DB, m *Trigger) error {
	state := job.TriggerState(m.State)
	if state != job.StatePaused && state != job.StatePausedBlocked {
		return nil
	}
	var blocked bool
	j, err := findJob(tx, job.NewJobKey(m.JobGroup, m.JobName))
	if err == nil {
		blocked = j.Blocked
	} else if !errors.Is(err, job.ErrJobNotFound) {
		return err
	}
	next := job.ResumedState(m.toTrigger(), blocked)
	return errors.WithStack(whereTrigger(tx.Model(&Trigger{}), job.NewTriggerKey(m.TriggerGroup, m.TriggerName)).
		Where("state = ?", m.State).Update("state", string(next)).Error)
}

func (s *Store) PauseTriggerGroup(ctx context.Context, group string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		paused, err := isGroupPaused(tx, group)
		if err != nil {
			return err
		}
		if !paused {
			if err = tx.Create(&PausedGroup{TriggerGroup: group}).Error; err != nil {
				return errors.WithStack(err)
			}
		}
		return pause(func() *gorm.DB { return tx.Where("trigger_group = ?", group) })
	})
}

func (s *Store) ResumeTriggerGroup(ctx context.Context, group string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("trigger_group = ?", group).Delete(&PausedGroup{}).Error; err != nil {
			return errors.WithStack(err)
		}
		var list []*Trigger
		if err := tx.Where("trigger_group = ? AND state IN ?", group,
			states(job.StatePaused, job.StatePausedBlocked)).Find(&list).Error; err != nil {
			return errors.WithStack(err)
		}
		for _, m := range list {
			if err := resume(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) PausedTriggerGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.conn(ctx).Model(&PausedGroup{}).Order("trigger_group").Pluck("trigger_group", &groups).Error
	return groups, errors.WithStack(err)
}

func (s *Store) AcquireNextTriggers(ctx context.Context, opts job.AcquireOptions) ([]*job.Trigger, error) {
	var acquired []*job.Trigger
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := recoverMisfires(tx, opts.Now, opts.MisfireThreshold); err != nil {
			return err
		}
		var candidates []*Trigger
		// 多取一些,跳过独占任务的重复触发器后仍能凑满一批
		if err := tx.Where("state = ? AND next_fire_time > 0 AND next_fire_time <= ?",
			string(job.StateNormal), timex.UnixMilli(opts.NoLaterThan)).
			Order("next_fire_time ASC, priority DESC, trigger_group, trigger_name").
			Limit(opts.MaxCount*2 + 8).Find(&candidates).Error; err != nil {
			return errors.WithStack(err)
		}

		jobs := make(map[job.JobKey]*JobDetail)
		exclusive := make(map[job.JobKey]struct{})
		var batchEnd int64
		for _, c := range candidates {
			if len(acquired) >= opts.MaxCount {
				break
			}
			// 整批在第一个触发器的时间触发,窗口外的留给下一轮
			if len(acquired) > 0 && c.NextFireTime > batchEnd {
				break
			}
			jobKey := job.NewJobKey(c.JobGroup, c.JobName)
			j, ok := jobs[jobKey]
			if !ok {
				var err error
				if j, err = findJob(tx, jobKey); err != nil {
					if errors.Is(err, job.ErrJobNotFound) {
						continue
					}
					return err
				}
				jobs[jobKey] = j
			}
			if j.DisallowConcurrent {
				if _, ok = exclusive[jobKey]; ok {
					continue
				}
				exclusive[jobKey] = struct{}{}
			}
			fireInstanceID := uuid.NewV4().String()
			result := whereTrigger(tx.Model(&Trigger{}), job.NewTriggerKey(c.TriggerGroup, c.TriggerName)).
				Where("state = ?", string(job.StateNormal)).
				Updates(map[string]interface{}{
					"state":            string(job.StateAcquired),
					"fire_instance_id": fireInstanceID,
				})
			if result.Error != nil {
				return errors.WithStack(result.Error)
			}
			if result.RowsAffected != 1 {
				// 已被其他节点获取
				continue
			}
			t := c.toTrigger()
			t.State = job.StateAcquired
			t.FireInstanceID = fireInstanceID
			if len(acquired) == 0 {
				batchEnd = c.NextFireTime + opts.TimeWindow.Milliseconds()
			}
			acquired = append(acquired, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func recoverMisfires(tx *gorm.DB, now time.Time, threshold time.Duration) error {
	var list []*Trigger
	if err := tx.Where("state = ? AND next_fire_time > 0 AND next_fire_time < ?",
		string(job.StateNormal), timex.UnixMilli(now.Add(-threshold))).Find(&list).Error; err != nil {
		return errors.WithStack(err)
	}
	for _, m := range list {
		t := m.toTrigger()
		if !t.IsMisfired(now, threshold) {
			continue
		}
		t.UpdateAfterMisfire(now)
		if !t.MayFireAgain() {
			if _, err := removeTrigger(tx, t.Key); err != nil {
				return err
			}
			continue
		}
		if err := whereTrigger(tx.Model(&Trigger{}), t.Key).Where("state = ?", string(job.StateNormal)).
			Updates(map[string]interface{}{
				"next_fire_time": timex.UnixMilli(t.NextFireTime),
				"prev_fire_time": timex.UnixMilli(t.PreviousFireTime),
			}).Error; err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, t *job.Trigger) error {
	return errors.WithStack(whereTrigger(s.conn(ctx).Model(&Trigger{}), t.Key).
		Where("state = ? AND fire_instance_id = ?", string(job.StateAcquired), t.FireInstanceID).
		Updates(map[string]interface{}{
			"state":            string(job.StateNormal),
			"fire_instance_id": "",
		}).Error)
}

func (s *Store) TriggersFired(ctx context.Context, triggers []*job.Trigger, now time.Time) ([]*job.FiredBundle, error) {
	result := make([]*job.FiredBundle, len(triggers))
	err := s.tx(ctx, func(tx *gorm.DB) error {
		for i, acquired := range triggers {
			bundle, err := fired(tx, acquired, now)
			if err != nil {
				return err
			}
			result[i] = bundle
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func fired(tx *gorm.DB, acquired *job.Trigger, now time.Time) (*job.FiredBundle, error) {
	m, err := findTrigger(tx, acquired.Key)
	if err != nil {
		if errors.Is(err, job.ErrTriggerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if job.TriggerState(m.State) != job.StateAcquired || m.FireInstanceID != acquired.FireInstanceID {
		return nil, nil
	}
	jm, err := findJob(tx, acquired.JobKey)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return nil, errors.WithStack(whereTrigger(tx, acquired.Key).Delete(&Trigger{}).Error)
		}
		return nil, err
	}
	detail, err := jm.toJobDetail()
	if err != nil {
		return nil, err
	}

	t := m.toTrigger()
	bundle := &job.FiredBundle{
		Job:               detail,
		ScheduledFireTime: t.NextFireTime,
		FireTime:          now,
		PreviousFireTime:  t.PreviousFireTime,
	}
	t.Triggered()
	bundle.NextFireTime = t.NextFireTime
	t.State = job.StateNormal
	if !t.MayFireAgain() {
		t.State = job.StateComplete
	}
	if detail.DisallowConcurrent {
		t.State = job.StateBlocked
		if err = whereJob(tx.Model(&JobDetail{}), detail.Key).Update("blocked", true).Error; err != nil {
			return nil, errors.WithStack(err)
		}
		siblings := func() *gorm.DB {
			return whereJob(tx, detail.Key).
				Where("NOT (trigger_group = ? AND trigger_name = ?)", t.Key.Group, t.Key.Name)
		}
		if err = setState(siblings(), job.StateBlocked, job.StateNormal, job.StateAcquired); err != nil {
			return nil, err
		}
		if err = setState(siblings(), job.StatePausedBlocked, job.StatePaused); err != nil {
			return nil, err
		}
	}
	if err = whereTrigger(tx.Model(&Trigger{}), t.Key).Updates(map[string]interface{}{
		"next_fire_time":  timex.UnixMilli(t.NextFireTime),
		"prev_fire_time":  timex.UnixMilli(t.PreviousFireTime),
		"times_triggered": t.TimesTriggered,
		"state":           string(t.State),
	}).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	bundle.Trigger = t
	return bundle, nil
}

func (s *Store) TriggeredJobComplete(ctx context.Context, t *job.Trigger, j *job.JobDetail,
	instruction job.CompletedInstruction) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if j.DisallowConcurrent {
			if err := unblock(tx, j.Key); err != nil {
				return err
			}
		}
		m, err := findTrigger(tx, t.Key)
		if err != nil {
			if errors.Is(err, job.ErrTriggerNotFound) {
				return nil
			}
			return err
		}
		if m.FireInstanceID != t.FireInstanceID {
			// 执行期间已被替换
			return nil
		}
		if instruction == job.InstructionSetTriggerError {
			return errors.WithStack(whereTrigger(tx.Model(&Trigger{}), t.Key).
				Update("state", string(job.StateError)).Error)
		}
		if m.NextFireTime == 0 {
			_, err = removeTrigger(tx, t.Key)
		}
		return err
	})
}

func unblock(tx *gorm.DB, key job.JobKey) error {
	if err := whereJob(tx.Model(&JobDetail{}), key).Update("blocked", false).Error; err != nil {
		return errors.WithStack(err)
	}
	if err := setState(whereJob(tx, key).Where("next_fire_time > 0"),
		job.StateNormal, job.StateBlocked); err != nil {
		return err
	}
	if err := setState(whereJob(tx, key).Where("next_fire_time = 0"),
		job.StateComplete, job.StateBlocked); err != nil {
		return err
	}
	return setState(whereJob(tx, key), job.StatePaused, job.StatePausedBlocked)
}

func (s *Store) RecoverState(ctx context.Context) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&JobDetail{}).Where("blocked = ?", true).Update("blocked", false).Error; err != nil {
			return errors.WithStack(err)
		}
		if err := tx.Model(&Trigger{}).Where("state IN ?", states(job.StateAcquired, job.StateBlocked)).
			Updates(map[string]interface{}{
				"state":            string(job.StateNormal),
				"fire_instance_id": "",
			}).Error; err != nil {
			return errors.WithStack(err)
		}
		return setState(tx, job.StatePaused, job.StatePausedBlocked)
	})
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		for _, model := range Models() {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}
