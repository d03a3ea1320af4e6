package services

const (
	MinRating      = 0
	MaxRating      = 100
	PointsPerStar  = 2
	MinPhotoRating = 1
	MaxPhotoRating = 5
)

// ClampRating bounds a volunteer rating to [MinRating, MaxRating].
func ClampRating(v int) int {
	if v < MinRating {
		return MinRating
	}
	if v > MaxRating {
		return MaxRating
	}
	return v
}

// RatingPoints converts a 1..5 photo grade into reputation points.
func RatingPoints(stars int) (int, error) {
	if stars < MinPhotoRating || stars > MaxPhotoRating {
		return 0, ErrInvalidRating
	}
	return stars * PointsPerStar, nil
}
