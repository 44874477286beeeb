package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/preschool"
)

var demoTeachers = []preschool.Teacher{
	{Name: "Amani Mwamba", Email: "amani@kidogo.test", ClassName: "Sunflowers", Bio: "Loves songs and finger painting."},
	{Name: "Neema Kabila", Email: "neema@kidogo.test", ClassName: "Butterflies", Bio: "Storyteller and garden keeper."},
}

// demoEvents are scheduled relative to the seed date.
var demoEvents = []struct {
	title, description, location string
	inDays, hours                int
}{
	{"Parents' morning", "Meet the teachers and visit the classrooms.", "Main hall", 7, 2},
	{"Garden day", "Planting beans with the Butterflies.", "School garden", 14, 3},
	{"End of term show", "Songs and dances by all classes.", "Main hall", 30, 2},
}

// seed fills an empty school with demo teachers and upcoming events.
func (cli *commandLine) seed() error {
	ctx := context.Background()

	teachers, err := cli.school.ListTeachers(ctx)
	if err != nil {
		return err
	}
	if len(teachers) > 0 {
		fmt.Println("school already has data, nothing to seed")
		return nil
	}

	for _, t := range demoTeachers {
		if _, err = cli.school.CreateTeacher(ctx, t, nil); err != nil {
			return errors.Wrapf(err, "seeding teacher %q", t.Name)
		}
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(9 * time.Hour)
	for _, e := range demoEvents {
		starts := day.AddDate(0, 0, e.inDays)
		evt := preschool.Event{
			Title:       e.title,
			Description: e.description,
			Location:    e.location,
			StartsAt:    starts,
			EndsAt:      starts.Add(time.Duration(e.hours) * time.Hour),
		}
		if _, err = cli.school.CreateEvent(ctx, evt, nil); err != nil {
			return errors.Wrapf(err, "seeding event %q", e.title)
		}
	}

	fmt.Printf("seeded %d teachers and %d events\n", len(demoTeachers), len(demoEvents))
	return nil
}
